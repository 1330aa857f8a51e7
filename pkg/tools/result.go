package tools

import (
	"encoding/json"

	"github.com/nstogner/devcli/pkg/sandbox"
)

const (
	// KindInvalidInvocation marks an unknown tool or arguments that do not
	// match the tool's schema.
	KindInvalidInvocation sandbox.Kind = "InvalidInvocation"
	// KindInternal marks a tool that panicked.
	KindInternal sandbox.Kind = "InternalError"
)

// Invocation is a single tool call requested by the oracle.
type Invocation struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Result is what a tool call produced. Failures are results too: Kind is set
// and Text carries the message fed back to the oracle.
type Result struct {
	// Text is the string result. Unused by list_files on success.
	Text string `json:"text,omitempty"`
	// Items is the list_files result.
	Items []string `json:"items,omitempty"`
	// Kind is empty on success.
	Kind sandbox.Kind `json:"kind,omitempty"`
	// ExitCode is set for run_command.
	ExitCode *int `json:"exit_code,omitempty"`
}

// IsError reports whether the call failed.
func (r Result) IsError() bool { return r.Kind != "" }

// Content renders the result as the single string handed to the oracle.
// Lists are rendered as a JSON array.
func (r Result) Content() string {
	if r.Items != nil && (r.Text == "" || r.Kind == sandbox.KindAccessDenied) {
		b, err := json.Marshal(r.Items)
		if err != nil {
			return r.Text
		}
		return string(b)
	}
	return r.Text
}
