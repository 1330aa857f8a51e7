package runner

import (
	"fmt"
	"time"

	"github.com/nstogner/devcli/pkg/models"
	"github.com/nstogner/devcli/pkg/tools"
)

// Step is one tool call and its result, in the order they were made.
type Step struct {
	Invocation tools.Invocation `json:"invocation"`
	Result     tools.Result     `json:"result"`
}

// EventType names what an Event reports.
type EventType string

const (
	EventState      EventType = "state"
	EventMessage    EventType = "message"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
)

// Event is delivered to an Observer as the session progresses.
type Event struct {
	Type       EventType         `json:"type"`
	State      State             `json:"state,omitempty"`
	Text       string            `json:"text,omitempty"`
	Invocation *tools.Invocation `json:"invocation,omitempty"`
	Result     *tools.Result     `json:"result,omitempty"`
}

// Observer receives session events. It is called synchronously from the
// session's goroutine.
type Observer func(Event)

// Session is the state of one task from submission to a terminal state.
type Session struct {
	ID    string `json:"id"`
	Task  string `json:"task"`
	State State  `json:"state"`

	// Transcript records every tool call in order.
	Transcript []Step `json:"transcript"`
	// Messages is the conversation as sent to the oracle.
	Messages []models.AgentMessage `json:"-"`

	Rounds  int       `json:"rounds"`
	Started time.Time `json:"started"`

	// Answer is the oracle's final reply when State is StateDone.
	Answer string `json:"answer,omitempty"`
	// Err is the oracle failure when State is StateFailed.
	Err error `json:"-"`
	// Exceeded describes the exhausted budget when State is StateBudgetExceeded.
	Exceeded string `json:"exceeded,omitempty"`

	maxRounds   int
	maxDuration time.Duration
	observer    Observer
}

// Output is the text shown to the user for a finished session.
func (s *Session) Output() string {
	switch s.State {
	case StateDone:
		return s.Answer
	case StateFailed:
		return fmt.Sprintf("Sorry, there was an error: %v", s.Err)
	case StateBudgetExceeded:
		return fmt.Sprintf("Stopped: the task exceeded its budget (%s).", s.Exceeded)
	default:
		return ""
	}
}

// budgetExhausted returns a description of the first exhausted limit, or ""
// while the session may still consult the oracle.
func (s *Session) budgetExhausted(now time.Time) string {
	if s.maxRounds > 0 && s.Rounds >= s.maxRounds {
		return fmt.Sprintf("%d oracle rounds", s.maxRounds)
	}
	if s.maxDuration > 0 && now.Sub(s.Started) >= s.maxDuration {
		return fmt.Sprintf("%s wall-clock time", s.maxDuration)
	}
	return ""
}

func (s *Session) notify(e Event) {
	if s.observer != nil {
		s.observer(e)
	}
}
