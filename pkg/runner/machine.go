package runner

import (
	"log/slog"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// State is a stage of a session.
type State string

const (
	StateStart          State = "start"
	StateAwaitingOracle State = "awaiting_oracle"
	StateDispatching    State = "dispatching"
	StateDone           State = "done"
	StateFailed         State = "failed"
	StateBudgetExceeded State = "budget_exceeded"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateBudgetExceeded
}

const (
	eventAsk     statekit.EventType = "ASK"
	eventCalls   statekit.EventType = "CALLS"
	eventAnswer  statekit.EventType = "ANSWER"
	eventResults statekit.EventType = "RESULTS"
	eventFail    statekit.EventType = "FAIL"
	eventExhaust statekit.EventType = "EXHAUST"
)

// newMachine builds the session statechart. Entering awaiting_oracle is
// guarded by the budget; a blocked transition leaves the session where it is
// and the loop follows up with EXHAUST.
func newMachine() (*statekit.MachineConfig[*Session], error) {
	return statekit.NewMachine[*Session]("session").
		WithInitial(statekit.StateID(StateStart)).
		WithContext(&Session{}).
		WithAction("enter", enterState).
		WithAction("countRound", countRound).
		WithGuard("withinBudget", withinBudget).
		State(statekit.StateID(StateStart)).
			OnEntry("enter").
			On(eventAsk).Target(statekit.StateID(StateAwaitingOracle)).Guard("withinBudget").Do("countRound").
			On(eventExhaust).Target(statekit.StateID(StateBudgetExceeded)).
			Done().
		State(statekit.StateID(StateAwaitingOracle)).
			OnEntry("enter").
			On(eventCalls).Target(statekit.StateID(StateDispatching)).
			On(eventAnswer).Target(statekit.StateID(StateDone)).
			On(eventFail).Target(statekit.StateID(StateFailed)).
			On(eventExhaust).Target(statekit.StateID(StateBudgetExceeded)).
			Done().
		State(statekit.StateID(StateDispatching)).
			OnEntry("enter").
			On(eventResults).Target(statekit.StateID(StateAwaitingOracle)).Guard("withinBudget").Do("countRound").
			On(eventExhaust).Target(statekit.StateID(StateBudgetExceeded)).
			Done().
		State(statekit.StateID(StateDone)).
			Final().
			OnEntry("enter").
			Done().
		State(statekit.StateID(StateFailed)).
			Final().
			OnEntry("enter").
			Done().
		State(statekit.StateID(StateBudgetExceeded)).
			Final().
			OnEntry("enter").
			Done().
		Build()
}

// enterState is run on entry to every state. The target is derived from the
// event since statekit runs entry actions before State() reflects it.
func enterState(s **Session, event statekit.Event) {
	if s == nil || *s == nil {
		return
	}
	sess := *s
	to := stateForEvent(event.Type)
	if to == "" {
		to = StateStart
	}
	slog.Debug("Session state", "session", sess.ID, "from", sess.State, "to", to, "event", event.Type)
	sess.State = to
	sess.notify(Event{Type: EventState, State: to})
}

func countRound(s **Session, _ statekit.Event) {
	if s == nil || *s == nil {
		return
	}
	(*s).Rounds++
}

func withinBudget(s *Session, _ statekit.Event) bool {
	if s == nil {
		return false
	}
	return s.budgetExhausted(time.Now()) == ""
}

func stateForEvent(t statekit.EventType) State {
	switch t {
	case eventAsk, eventResults:
		return StateAwaitingOracle
	case eventCalls:
		return StateDispatching
	case eventAnswer:
		return StateDone
	case eventFail:
		return StateFailed
	case eventExhaust:
		return StateBudgetExceeded
	default:
		return ""
	}
}
