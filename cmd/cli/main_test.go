package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nstogner/devcli/pkg/config"
	"github.com/nstogner/devcli/pkg/models"
	"github.com/nstogner/devcli/pkg/models/openai"
	"github.com/nstogner/devcli/pkg/runner"
	"github.com/nstogner/devcli/pkg/sandbox"
	"github.com/nstogner/devcli/pkg/tools"
	"github.com/nstogner/devcli/pkg/voice"
)

// MockModel replies with Replies in order, repeating the last one.
type MockModel struct {
	mu      sync.Mutex
	Replies []models.AgentMessage
	Err     error
	calls   int
}

func (m *MockModel) List(ctx context.Context) ([]string, error) {
	return []string{"mock-model"}, nil
}

func (m *MockModel) Stream(ctx context.Context, modelName string, messages []models.AgentMessage, specs []models.ToolSpec) (models.ModelStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	i := min(m.calls, len(m.Replies)-1)
	m.calls++
	return &MockStream{Msg: m.Replies[i]}, nil
}

type MockStream struct {
	Msg models.AgentMessage
}

func (s *MockStream) FullMessage() (models.AgentMessage, error) {
	return s.Msg, nil
}
func (s *MockStream) Close() error { return nil }

// recordingSpeaker remembers what it was asked to say.
type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *recordingSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

type fixedListener struct {
	text string
	err  error
}

func (l fixedListener) Listen(context.Context) (string, error) { return l.text, l.err }

func notesReplies() []models.AgentMessage {
	return []models.AgentMessage{
		{Role: models.RoleAssistant, Content: []models.Content{
			models.Text("I will create the file."),
			models.ToolUse("call-1", "write_file", map[string]any{"path": "notes.txt", "content": "Remember the milk"}),
		}},
		{Role: models.RoleAssistant, Content: []models.Content{models.Text("Created notes.txt.")}},
	}
}

func newTestApp(t *testing.T, model models.ModelProvider, listener voice.Listener) (*app, *recordingSpeaker, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := sandbox.NewGuard(root)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := tools.NewRegistry(sandbox.NewFiles(guard), sandbox.NewShell(root))
	if err != nil {
		t.Fatal(err)
	}
	r, err := runner.New(model, tools.NewDispatcher(reg), runner.Config{ModelName: "mock-model", RetryAttempts: 1})
	if err != nil {
		t.Fatal(err)
	}
	speaker := &recordingSpeaker{}
	if listener == nil {
		listener = fixedListener{err: voice.ErrDisabled}
	}
	return &app{runner: r, provider: model, listener: listener, speaker: speaker}, speaker, root
}

func TestConsole_TypedTask(t *testing.T) {
	a, speaker, root := newTestApp(t, &MockModel{Replies: notesReplies()}, nil)

	in := strings.NewReader("t\nCreate notes.txt\n\n   \nexit\n")
	var out bytes.Buffer
	if err := newConsole(in, &out, a).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	t.Logf("Testing that the task ran against the root")
	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil || string(data) != "Remember the milk" {
		t.Fatalf("expected notes.txt to be written, got %q (%v)", data, err)
	}

	got := out.String()
	for _, want := range []string{
		"DevCLI Voice Agent Ready!",
		"(t)ype or (v)oice or 'exit'",
		"  > write_file notes.txt",
		"AI Agent Output:\n\nCreated notes.txt.\n",
		"Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, got)
		}
	}
	if len(speaker.spoken) != 1 || speaker.spoken[0] != "Created notes.txt." {
		t.Errorf("expected the answer to be spoken once, got %q", speaker.spoken)
	}
}

func TestConsole_ModelFailure(t *testing.T) {
	a, speaker, _ := newTestApp(t, &MockModel{Err: &models.APIError{StatusCode: 400, Body: "bad request"}}, nil)

	in := strings.NewReader("t\nhello\nquit\n")
	var out bytes.Buffer
	if err := newConsole(in, &out, a).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(out.String(), "\nError: ") {
		t.Errorf("expected an error line, got:\n%s", out.String())
	}
	if len(speaker.spoken) != 1 || !strings.HasPrefix(speaker.spoken[0], "Sorry, there was an error: ") {
		t.Errorf("expected the error to be spoken, got %q", speaker.spoken)
	}
}

func TestConsole_Voice(t *testing.T) {
	t.Logf("Testing that an unrecognized utterance is reported and skipped")
	model := &MockModel{Replies: notesReplies()}
	a, speaker, _ := newTestApp(t, model, fixedListener{err: voice.ErrUnrecognized})

	var out bytes.Buffer
	if err := newConsole(strings.NewReader("v\nexit\n"), &out, a).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Sorry, I couldn't understand.") {
		t.Errorf("expected the recognition failure to be printed, got:\n%s", out.String())
	}
	if model.calls != 0 {
		t.Errorf("expected no model calls, got %d", model.calls)
	}
	if len(speaker.spoken) != 1 {
		t.Errorf("expected the failure to be spoken, got %q", speaker.spoken)
	}

	t.Logf("Testing that a recognized utterance becomes the task")
	a, _, root := newTestApp(t, &MockModel{Replies: notesReplies()}, fixedListener{text: "Create notes.txt"})
	out.Reset()
	if err := newConsole(strings.NewReader("v\n"), &out, a).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "notes.txt")); err != nil {
		t.Errorf("expected notes.txt to exist: %v", err)
	}
}

func TestTUI_Flow(t *testing.T) {
	a, _, _ := newTestApp(t, &MockModel{Replies: notesReplies()}, nil)
	m := newTUIModel(context.Background(), a)

	t.Logf("Testing that a finished session is rendered under the output heading")
	sess := a.runner.Run(context.Background(), "Create notes.txt", nil)
	next, _ := m.Update(sessionDoneMsg{sess: sess})
	m = next.(tuiModel)
	if m.busy {
		t.Error("expected the model to be idle after the session finished")
	}
	if !strings.Contains(strings.Join(m.blocks, "\n"), "AI Agent Output:") {
		t.Errorf("expected output heading in transcript, got %q", m.blocks)
	}

	t.Logf("Testing that exit quits")
	m.textarea.SetValue("exit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected exit to quit the program")
	}
}

func TestNewProvider(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "test-key"

	p, closeFn, err := newProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newProvider: %v", err)
	}
	defer closeFn()
	if _, ok := p.(*openai.Client); !ok {
		t.Errorf("expected the OpenAI-compatible client by default, got %T", p)
	}

	cfg.Provider = "carrier-pigeon"
	if _, _, err := newProvider(context.Background(), cfg); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}

func TestNewCommandRunner(t *testing.T) {
	cfg := config.Default()
	cfg.Command.Timeout = 0
	cfg.Command.MaxOutput = 10

	r, err := newCommandRunner(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("newCommandRunner: %v", err)
	}
	shell, ok := r.(*sandbox.Shell)
	if !ok {
		t.Fatalf("expected a host shell, got %T", r)
	}
	if shell.Timeout != 0 || shell.MaxOutput != 10 {
		t.Errorf("expected config to carry over, got %+v", shell)
	}

	cfg.Command.Backend = "vm"
	if _, err := newCommandRunner(cfg, t.TempDir()); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestLoadConfigFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEVCLI_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("DEVCLI_API_KEY", "")

	t.Logf("Testing that a missing key fails only for model-backed commands")
	if _, err := loadConfig(&options{}, true); err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY is not set") {
		t.Errorf("expected missing key error, got %v", err)
	}
	cfg, err := loadConfig(&options{root: "/srv/project", model: "m", mute: true}, false)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Root != "/srv/project" || cfg.Model != "m" || !cfg.Voice.Mute {
		t.Errorf("expected flags to override config, got %+v", cfg)
	}
}

func TestSetupLogging_DefaultFileOutsideRoot(t *testing.T) {
	root := t.TempDir()
	state := t.TempDir()
	t.Chdir(root)
	t.Setenv("DEVCLI_HOME", state)
	defer slog.SetDefault(slog.Default())

	closer, err := setupLogging(config.LogConfig{Level: "info", Format: "text"}, nil)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	closer.Close()

	if _, err := os.Stat(filepath.Join(state, defaultLogFile)); err != nil {
		t.Errorf("expected log file in the state directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, defaultLogFile)); !os.IsNotExist(err) {
		t.Errorf("expected no log file in the working directory, got %v", err)
	}
}
