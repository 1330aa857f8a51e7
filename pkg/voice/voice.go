// Package voice turns speech into task text and answers into speech by
// shelling out to configurable recognizer and synthesizer commands.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// DefaultRate is the speaking rate in words per minute.
const DefaultRate = 170

var (
	// ErrUnrecognized means the recognizer heard nothing it could transcribe.
	ErrUnrecognized = errors.New("Sorry, I couldn't understand.")
	// ErrRecognition means the recognizer itself failed.
	ErrRecognition = errors.New("Speech recognition error.")
	// ErrDisabled is returned by a Listener without a command.
	ErrDisabled = errors.New("voice input is not configured")
)

// Listener captures one utterance and returns its transcript.
type Listener interface {
	Listen(ctx context.Context) (string, error)
}

// Speaker reads text aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// CommandListener runs Command through the shell and takes its stdout as
// the transcript. An empty transcript is ErrUnrecognized and a failing
// command is ErrRecognition.
type CommandListener struct {
	Command string
	// Out receives the prompt and the echoed transcript.
	Out io.Writer
}

func (l *CommandListener) Listen(ctx context.Context) (string, error) {
	if l.Command == "" {
		return "", ErrDisabled
	}
	if l.Out != nil {
		fmt.Fprintln(l.Out, "Listening... Speak now:")
	}

	var stdout, stderr bytes.Buffer
	cmd := shell(ctx, l.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Error("Speech recognition failed", "command", l.Command, "error", err, "stderr", stderr.String())
		return "", fmt.Errorf("%w (%v)", ErrRecognition, err)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", ErrUnrecognized
	}
	if l.Out != nil {
		fmt.Fprintf(l.Out, "You said: %s\n", text)
	}
	slog.Debug("Recognized speech", "text", text)
	return text, nil
}

// CommandSpeaker pipes text into Command. Every "{rate}" in Command is
// replaced by Rate.
type CommandSpeaker struct {
	Command string
	Rate    int
}

// NewSpeaker returns a CommandSpeaker, filling in the platform default
// command and rate when they are empty.
func NewSpeaker(command string, rate int) *CommandSpeaker {
	if command == "" {
		command = DefaultSpeakCommand()
	}
	if rate <= 0 {
		rate = DefaultRate
	}
	return &CommandSpeaker{Command: command, Rate: rate}
}

// DefaultSpeakCommand returns the synthesizer shipped with the platform.
func DefaultSpeakCommand() string {
	if runtime.GOOS == "darwin" {
		return "say -r {rate}"
	}
	return "espeak -s {rate}"
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	command := strings.ReplaceAll(s.Command, "{rate}", strconv.Itoa(s.Rate))

	var stderr bytes.Buffer
	cmd := shell(ctx, command)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to speak with %q: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Mute is a Speaker that says nothing.
type Mute struct{}

func (Mute) Speak(context.Context, string) error { return nil }

func shell(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}
