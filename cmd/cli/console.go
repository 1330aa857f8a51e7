package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nstogner/devcli/pkg/runner"
	"github.com/nstogner/devcli/pkg/voice"
)

// console is the plain line-oriented interactive loop used when stdin is
// not a terminal.
type console struct {
	in       *bufio.Scanner
	out      io.Writer
	runner   *runner.Runner
	listener voice.Listener
	speaker  voice.Speaker
}

func newConsole(in io.Reader, out io.Writer, a *app) *console {
	listener := a.listener
	if l, ok := listener.(*voice.CommandListener); ok && l.Out == nil {
		l.Out = out
	}
	return &console{
		in:       bufio.NewScanner(in),
		out:      out,
		runner:   a.runner,
		listener: listener,
		speaker:  a.speaker,
	}
}

// Run reads tasks until the user exits or input ends.
func (c *console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "DevCLI Voice Agent Ready!")
	for {
		choice, ok := c.prompt("\nChoose input mode: (t)ype or (v)oice or 'exit': ")
		if !ok {
			fmt.Fprintln(c.out, "\nGoodbye!")
			return c.in.Err()
		}
		choice = strings.ToLower(strings.TrimSpace(choice))
		if choice == "exit" || choice == "quit" {
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}

		var task string
		if choice == "v" {
			text, err := c.listener.Listen(ctx)
			if err != nil {
				c.say(ctx, heardError(err))
				continue
			}
			task = text
		} else {
			task, ok = c.prompt("\nType your request: ")
			if !ok {
				fmt.Fprintln(c.out, "\nGoodbye!")
				return c.in.Err()
			}
		}

		if strings.TrimSpace(task) == "" {
			continue
		}
		c.runTask(ctx, task)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// runTask runs one session, printing tool activity as it happens, then
// prints and speaks the outcome.
func (c *console) runTask(ctx context.Context, task string) *runner.Session {
	sess := c.runner.Run(ctx, task, c.observe)

	if sess.State == runner.StateFailed {
		fmt.Fprintf(c.out, "\nError: %v\n", sess.Err)
		c.speak(ctx, sess.Output())
		return sess
	}
	fmt.Fprint(c.out, "\nAI Agent Output:\n\n")
	fmt.Fprintln(c.out, sess.Output())
	c.speak(ctx, sess.Output())
	return sess
}

func (c *console) observe(e runner.Event) {
	switch e.Type {
	case runner.EventToolCall:
		fmt.Fprintf(c.out, "  > %s %s\n", e.Invocation.Name, summarizeArgs(e.Invocation.Args))
	case runner.EventToolResult:
		if e.Result.IsError() {
			fmt.Fprintf(c.out, "  ! %s: %s\n", e.Invocation.Name, firstLine(e.Result.Content()))
		}
	}
}

func (c *console) prompt(label string) (string, bool) {
	fmt.Fprint(c.out, label)
	if !c.in.Scan() {
		return "", false
	}
	return c.in.Text(), true
}

// say prints msg and speaks it.
func (c *console) say(ctx context.Context, msg string) {
	fmt.Fprintln(c.out, msg)
	c.speak(ctx, msg)
}

func (c *console) speak(ctx context.Context, text string) {
	if err := c.speaker.Speak(ctx, text); err != nil {
		slog.Warn("Failed to speak", "error", err)
	}
}

// heardError is what the user is told when listening fails.
func heardError(err error) string {
	switch {
	case errors.Is(err, voice.ErrUnrecognized):
		return voice.ErrUnrecognized.Error()
	case errors.Is(err, voice.ErrRecognition):
		return voice.ErrRecognition.Error()
	default:
		return fmt.Sprintf("Voice input unavailable: %v", err)
	}
}

// summarizeArgs renders the path-like argument of a tool call.
func summarizeArgs(args map[string]any) string {
	for _, key := range []string{"path", "dir_path", "command"} {
		if v, ok := args[key].(string); ok {
			return firstLine(v)
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
