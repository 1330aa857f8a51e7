package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/nstogner/devcli/pkg/models"
	"github.com/nstogner/devcli/pkg/runner"
	"github.com/nstogner/devcli/pkg/sandbox"
	"github.com/nstogner/devcli/pkg/tools"
)

// scriptedModel replies with msgs in order, repeating the last one.
type scriptedModel struct {
	mu    sync.Mutex
	msgs  []models.AgentMessage
	calls int
}

func (m *scriptedModel) List(ctx context.Context) ([]string, error) {
	return []string{"scripted"}, nil
}

func (m *scriptedModel) Stream(ctx context.Context, modelName string, messages []models.AgentMessage, specs []models.ToolSpec) (models.ModelStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := min(m.calls, len(m.msgs)-1)
	m.calls++
	return scriptedStream{m.msgs[i]}, nil
}

type scriptedStream struct{ msg models.AgentMessage }

func (s scriptedStream) FullMessage() (models.AgentMessage, error) { return s.msg, nil }
func (s scriptedStream) Close() error                              { return nil }

func notesScript() []models.AgentMessage {
	return []models.AgentMessage{
		{Role: models.RoleAssistant, Content: []models.Content{
			models.ToolUse("call-1", "write_file", map[string]any{"path": "notes.txt", "content": "hello"}),
		}},
		{Role: models.RoleAssistant, Content: []models.Content{models.Text("Wrote notes.txt.")}},
	}
}

func newTestServer(t *testing.T, script []models.AgentMessage, origins ...string) (*httptest.Server, string) {
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
	model := &scriptedModel{msgs: script}
	r, err := runner.New(model, tools.NewDispatcher(reg), runner.Config{ModelName: "scripted"})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(New(r, model, origins...).Handler())
	t.Cleanup(ts.Close)
	return ts, root
}

func postJSON(t *testing.T, url string, body any, dst any) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestListTools(t *testing.T) {
	ts, _ := newTestServer(t, notesScript())

	resp, err := http.Get(ts.URL + "/api/tools")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var descs []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&descs); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, d := range descs {
		names = append(names, d.Name)
	}
	want := []string{"read_file", "write_file", "delete_file", "list_files", "run_command"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("tool names mismatch (-want +got):\n%s", diff)
	}
}

func TestCallTool(t *testing.T) {
	ts, root := newTestServer(t, notesScript())

	t.Logf("Testing a successful write through the API")
	var res toolResponse
	status := postJSON(t, ts.URL+"/api/tools/write_file", map[string]any{"path": "a.txt", "content": "x"}, &res)
	if status != http.StatusOK || res.Content != "a.txt has been written." {
		t.Fatalf("unexpected response %d %+v", status, res)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); err != nil {
		t.Errorf("expected a.txt to exist: %v", err)
	}

	t.Logf("Testing that containment failures are results, not HTTP errors")
	res = toolResponse{}
	status = postJSON(t, ts.URL+"/api/tools/read_file", map[string]any{"path": "../../etc/passwd"}, &res)
	if status != http.StatusOK || res.Content != sandbox.AccessDenied || res.Kind != sandbox.KindAccessDenied {
		t.Errorf("unexpected response %d %+v", status, res)
	}

	t.Logf("Testing that invalid arguments are reported as InvalidInvocation")
	res = toolResponse{}
	postJSON(t, ts.URL+"/api/tools/read_file", map[string]any{}, &res)
	if res.Kind != tools.KindInvalidInvocation {
		t.Errorf("expected InvalidInvocation, got %+v", res)
	}

	t.Logf("Testing that an unknown tool is a 404")
	if status := postJSON(t, ts.URL+"/api/tools/format_disk", map[string]any{}, nil); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestRunTask(t *testing.T) {
	ts, root := newTestServer(t, notesScript())

	var res taskResponse
	status := postJSON(t, ts.URL+"/api/tasks", taskRequest{Task: "Create notes.txt"}, &res)
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if res.State != runner.StateDone || res.Output != "Wrote notes.txt." {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Transcript) != 1 || res.Transcript[0].Invocation.Name != "write_file" {
		t.Errorf("unexpected transcript %+v", res.Transcript)
	}
	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("expected notes.txt to contain hello, got %q (%v)", data, err)
	}

	if status := postJSON(t, ts.URL+"/api/tasks", taskRequest{Task: "  "}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for a blank task, got %d", status)
	}
}

func TestTaskWebSocket(t *testing.T) {
	ts, _ := newTestServer(t, notesScript())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/tasks/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(taskRequest{Task: "Create notes.txt"}); err != nil {
		t.Fatal(err)
	}

	t.Logf("Testing that events stream before the final result")
	var types []string
	for {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg struct {
			Type   string        `json:"type"`
			Result *taskResponse `json:"result"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		types = append(types, msg.Type)
		if msg.Type == "result" {
			if msg.Result == nil || msg.Result.Output != "Wrote notes.txt." {
				t.Errorf("unexpected result %+v", msg.Result)
			}
			break
		}
	}

	for _, want := range []string{"tool_call", "tool_result", "message"} {
		found := false
		for _, got := range types {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected a %q event, got %v", want, types)
		}
	}
}

func TestCrossOriginRequests(t *testing.T) {
	ts, root := newTestServer(t, notesScript(), "http://localhost:3000")
	pwned := filepath.Join(root, "pwned.txt")

	post := func(origin, contentType string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/tools/run_command",
			strings.NewReader(`{"command":"echo pwned > pwned.txt"}`))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", contentType)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	t.Logf("Testing that a foreign origin cannot run commands")
	resp := post("http://evil.example", "text/plain")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS grant, got %q", got)
	}
	if _, err := os.Stat(pwned); !os.IsNotExist(err) {
		t.Fatalf("expected the command not to run, stat: %v", err)
	}

	t.Logf("Testing that non-JSON bodies are refused")
	if resp := post("", "text/plain"); resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", resp.StatusCode)
	}
	if _, err := os.Stat(pwned); !os.IsNotExist(err) {
		t.Fatalf("expected the command not to run, stat: %v", err)
	}

	t.Logf("Testing that a configured origin is granted")
	resp = post("http://localhost:3000", "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected the origin to be echoed, got %q", got)
	}

	t.Logf("Testing that a foreign origin cannot open the task socket")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/tasks/ws"
	ws, wsResp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		ws.Close()
		t.Fatal("expected the cross-origin dial to fail")
	}
	if wsResp == nil || wsResp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 handshake, got %+v", wsResp)
	}

	ws, _, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": {ts.URL}})
	if err != nil {
		t.Fatalf("expected a same-host dial to succeed: %v", err)
	}
	ws.Close()
}
