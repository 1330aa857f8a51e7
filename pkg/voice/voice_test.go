//go:build unix

package voice

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCommandListener(t *testing.T) {
	t.Logf("Testing that the transcript is taken from the command's stdout")
	var out bytes.Buffer
	l := &CommandListener{Command: "echo '  create notes.txt  '", Out: &out}
	text, err := l.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if text != "create notes.txt" {
		t.Errorf("expected trimmed transcript, got %q", text)
	}
	want := "Listening... Speak now:\nYou said: create notes.txt\n"
	if out.String() != want {
		t.Errorf("expected prompt %q, got %q", want, out.String())
	}
}

func TestCommandListenerFailures(t *testing.T) {
	cases := []struct {
		name    string
		command string
		want    error
	}{
		{name: "silence", command: "true", want: ErrUnrecognized},
		{name: "recognizer fails", command: "exit 3", want: ErrRecognition},
		{name: "not configured", command: "", want: ErrDisabled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &CommandListener{Command: tc.command}
			_, err := l.Listen(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if ErrUnrecognized.Error() != "Sorry, I couldn't understand." {
		t.Errorf("unexpected sentinel text %q", ErrUnrecognized)
	}
}

func TestCommandSpeaker(t *testing.T) {
	t.Logf("Testing that text is piped to the command with the rate substituted")
	out := filepath.Join(t.TempDir(), "spoken.txt")
	s := NewSpeaker("echo {rate} > "+out+"; cat >> "+out, 0)
	if s.Rate != DefaultRate {
		t.Fatalf("expected default rate %d, got %d", DefaultRate, s.Rate)
	}
	if err := s.Speak(context.Background(), "All done."); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "170\nAll done." {
		t.Errorf("unexpected spoken output %q", got)
	}

	t.Logf("Testing that a failing synthesizer is reported")
	bad := &CommandSpeaker{Command: "echo broken >&2; exit 1", Rate: 100}
	if err := bad.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("expected an error from a failing synthesizer")
	}
	if err := bad.Speak(context.Background(), "   "); err != nil {
		t.Errorf("blank text should not invoke the synthesizer: %v", err)
	}
}
