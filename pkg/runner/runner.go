package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"
	"github.com/nstogner/devcli/pkg/models"
	"github.com/nstogner/devcli/pkg/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nstogner/devcli/pkg/runner"

// DefaultInstructions is the persona sent with every task.
const DefaultInstructions = `You are DevCLI, an intelligent junior developer who never sleeps.
- You always think step by step before taking action.
- You explain your reasoning and what you plan to do before you do it.
- You are curious, careful, and eager to learn.
- After each action, reflect on what you did and how it could improve.
- Narrate your thought process as you work.
- You have full control over the project directory: you can read/write/delete files, run shell commands, and list directories.`

const (
	DefaultMaxRounds     = 25
	DefaultMaxDuration   = 10 * time.Minute
	DefaultOracleTimeout = 2 * time.Minute
)

// Config tunes a Runner. Zero values select the defaults.
type Config struct {
	ModelName    string
	Instructions string

	// MaxRounds bounds the number of oracle calls per task.
	MaxRounds int
	// MaxDuration bounds the wall-clock time of a task.
	MaxDuration time.Duration
	// OracleTimeout bounds a single oracle call attempt.
	OracleTimeout time.Duration

	RetryAttempts int
	RetryDelay    time.Duration
}

func (c *Config) setDefaults() {
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = DefaultOracleTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// Runner drives sessions: it consults the oracle, dispatches the tool calls
// it asks for and feeds the results back until the oracle answers.
type Runner struct {
	model      models.ModelProvider
	dispatcher *tools.Dispatcher
	cfg        Config
	machine    *statekit.MachineConfig[*Session]
	retrier    retry.Retry[models.AgentMessage]
}

// New creates a Runner.
func New(model models.ModelProvider, dispatcher *tools.Dispatcher, cfg Config) (*Runner, error) {
	cfg.setDefaults()
	machine, err := newMachine()
	if err != nil {
		return nil, fmt.Errorf("failed to build session state machine: %w", err)
	}
	return &Runner{
		model:      model,
		dispatcher: dispatcher,
		cfg:        cfg,
		machine:    machine,
		retrier: retry.New[models.AgentMessage](retry.Config{
			MaxAttempts:        cfg.RetryAttempts,
			InitialDelay:       cfg.RetryDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{errPermanent},
		}),
	}, nil
}

// Dispatcher returns the dispatcher the runner executes tool calls with.
func (r *Runner) Dispatcher() *tools.Dispatcher { return r.dispatcher }

// Run processes task to a terminal state. Oracle failures end the session in
// StateFailed; they are never returned.
func (r *Runner) Run(ctx context.Context, task string, observer Observer) *Session {
	sess := &Session{
		ID:          uuid.New().String(),
		Task:        task,
		State:       StateStart,
		Transcript:  []Step{},
		Started:     time.Now(),
		maxRounds:   r.cfg.MaxRounds,
		maxDuration: r.cfg.MaxDuration,
		observer:    observer,
	}
	sess.Messages = []models.AgentMessage{
		{Role: models.RoleSystem, Content: []models.Content{models.Text(r.cfg.Instructions)}},
		{Role: models.RoleUser, Content: []models.Content{models.Text(task)}},
	}

	interp := statekit.NewInterpreter(r.machine)
	interp.UpdateContext(func(c **Session) {
		*c = sess
	})
	interp.Start()
	defer interp.Stop()

	ctx, cancel := context.WithDeadline(ctx, sess.Started.Add(r.cfg.MaxDuration))
	defer cancel()

	slog.Info("Starting session", "session", sess.ID, "model", r.cfg.ModelName)
	r.advance(interp, sess, eventAsk)

	specs := r.dispatcher.Registry().Specs()
	for !interp.Done() {
		switch sess.State {
		case StateAwaitingOracle:
			reply, err := r.consult(ctx, sess, specs)
			if err != nil {
				if detail := sess.budgetExhausted(time.Now()); detail != "" {
					sess.Exceeded = detail
					interp.Send(statekit.Event{Type: eventExhaust})
					continue
				}
				slog.Error("Oracle call failed", "session", sess.ID, "error", err)
				sess.Err = err
				interp.Send(statekit.Event{Type: eventFail})
				continue
			}
			sess.Messages = append(sess.Messages, reply)
			if text := reply.TextOf(); text != "" {
				sess.notify(Event{Type: EventMessage, Text: text})
			}
			if len(reply.ToolCalls()) == 0 {
				sess.Answer = reply.TextOf()
				interp.Send(statekit.Event{Type: eventAnswer})
				continue
			}
			interp.Send(statekit.Event{Type: eventCalls})

		case StateDispatching:
			r.dispatchAll(ctx, sess)
			r.advance(interp, sess, eventResults)

		default:
			// Unreachable with a well-formed machine; fail rather than spin.
			sess.Err = fmt.Errorf("session stuck in state %s", sess.State)
			sess.State = StateFailed
			return sess
		}
	}

	slog.Info("Session finished", "session", sess.ID, "state", sess.State, "rounds", sess.Rounds, "toolCalls", len(sess.Transcript))
	return sess
}

// advance sends a budget-guarded event and converts a refusal into
// EXHAUST.
func (r *Runner) advance(interp *statekit.Interpreter[*Session], sess *Session, event statekit.EventType) {
	before := sess.State
	interp.Send(statekit.Event{Type: event})
	if sess.State != before {
		return
	}
	sess.Exceeded = sess.budgetExhausted(time.Now())
	slog.Warn("Session budget exhausted", "session", sess.ID, "detail", sess.Exceeded)
	interp.Send(statekit.Event{Type: eventExhaust})
}

func (r *Runner) consult(ctx context.Context, sess *Session, specs []models.ToolSpec) (models.AgentMessage, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.Consult", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("session.round", sess.Rounds),
		attribute.String("model.name", r.cfg.ModelName),
	))
	defer span.End()

	msg, err := r.retrier.Do(ctx, func(ctx context.Context) (models.AgentMessage, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.OracleTimeout)
		defer cancel()

		msg, err := r.stream(callCtx, sess.Messages, specs)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil || !transient(err) {
			return models.AgentMessage{}, permanent{err}
		}
		slog.Warn("Oracle call failed, retrying", "session", sess.ID, "error", err)
		return models.AgentMessage{}, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func (r *Runner) stream(ctx context.Context, msgs []models.AgentMessage, specs []models.ToolSpec) (models.AgentMessage, error) {
	stream, err := r.model.Stream(ctx, r.cfg.ModelName, msgs, specs)
	if err != nil {
		return models.AgentMessage{}, fmt.Errorf("model stream error: %w", err)
	}
	defer stream.Close()

	msg, err := stream.FullMessage()
	if err != nil {
		return models.AgentMessage{}, fmt.Errorf("model response error: %w", err)
	}
	msg.Role = models.RoleAssistant
	return msg, nil
}

// dispatchAll executes the last reply's tool calls in order and appends one
// tool message carrying every result.
func (r *Runner) dispatchAll(ctx context.Context, sess *Session) {
	reply := sess.Messages[len(sess.Messages)-1]
	var results []models.Content
	for _, call := range reply.ToolCalls() {
		inv := tools.Invocation{ID: call.ID, Name: call.Name, Args: call.Input}
		sess.notify(Event{Type: EventToolCall, Invocation: &inv})

		res := r.dispatcher.Dispatch(ctx, inv)
		sess.Transcript = append(sess.Transcript, Step{Invocation: inv, Result: res})
		sess.notify(Event{Type: EventToolResult, Invocation: &inv, Result: &res})

		results = append(results, models.ToolResult(call.ID, call.Name, res.Content(), res.IsError()))
	}
	sess.Messages = append(sess.Messages, models.AgentMessage{Role: models.RoleTool, Content: results})
}

var errPermanent = errors.New("permanent oracle error")

// permanent marks an error that retrying cannot fix. It reads as the
// wrapped error.
type permanent struct{ err error }

func (p permanent) Error() string        { return p.err.Error() }
func (p permanent) Unwrap() error        { return p.err }
func (p permanent) Is(target error) bool { return target == errPermanent }

// transient reports whether a failed oracle call is worth retrying.
func transient(err error) bool {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
