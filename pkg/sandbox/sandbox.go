package sandbox

import (
	"context"
	"strings"
)

// Outcome represents the result of running a shell command.
type Outcome struct {
	// Output is stdout followed by stderr. On failure it also carries the
	// "Error running command: ..." message.
	Output string `json:"output"`
	// Stdout is the captured standard output.
	Stdout string `json:"stdout,omitempty"`
	// Stderr is the captured standard error.
	Stderr string `json:"stderr,omitempty"`
	// ExitCode is the process exit status, or -1 if it never exited normally.
	ExitCode int `json:"exit_code"`
	// Kind is empty on success (including non-zero exits) and one of
	// KindCommandLaunchError or KindTimedOut otherwise.
	Kind Kind `json:"kind,omitempty"`
}

// Runner defines the interface for executing shell commands.
//
// Commands are NOT contained by a Guard: they run with the full privilege of
// the executing process (or container) and may touch any path it can.
type Runner interface {
	// Run executes command through the platform shell and waits for it to
	// finish. Failures are reported in the Outcome, never as a Go error.
	Run(ctx context.Context, command string) Outcome

	// Close releases any resources held by the runner (e.g. docker client).
	Close() error
}

// LaunchError formats the message reported when a command cannot be run.
func LaunchError(reason string) string {
	return "Error running command: " + reason
}

// AppendLaunchError adds LaunchError(reason) to output on a line of its own.
func AppendLaunchError(output, reason string) string {
	if output != "" && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output + LaunchError(reason)
}
