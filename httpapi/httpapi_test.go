package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jxucoder/agentdeck/agent"
	"github.com/jxucoder/agentdeck/eventbus"
	"github.com/jxucoder/agentdeck/groupchat"
	"github.com/jxucoder/agentdeck/model"
	"github.com/jxucoder/agentdeck/runtime"
	sqliteStore "github.com/jxucoder/agentdeck/store/sqlite"
	"github.com/jxucoder/agentdeck/supervisor"
)

// stubSupervisor hands queued outputs to spawns in order; unscripted spawns
// stay silent and alive until killed.
type stubSupervisor struct {
	mu     sync.Mutex
	script []string
	procs  map[string]*stubProc
	done   map[string]chan struct{}
}

type stubProc struct {
	output string
	alive  bool
	writes []string
}

func newStubSupervisor() *stubSupervisor {
	return &stubSupervisor{procs: make(map[string]*stubProc), done: make(map[string]chan struct{})}
}

func (s *stubSupervisor) enqueue(output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, output)
}

func (s *stubSupervisor) Spawn(_ context.Context, spec supervisor.Spec) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &stubProc{}
	if len(s.script) > 0 {
		p.output = s.script[0]
		s.script = s.script[1:]
	} else {
		p.alive = true
	}
	s.procs[spec.ID] = p
	s.done[spec.ID] = make(chan struct{})
	if !p.alive {
		close(s.done[spec.ID])
	}
	return 1000 + len(s.procs), nil
}

func (s *stubSupervisor) Write(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		return fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	p.writes = append(p.writes, string(data))
	return nil
}

func (s *stubSupervisor) Kill(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.done[id]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	return nil
}

func (s *stubSupervisor) IsRunning(id string) bool {
	s.mu.Lock()
	ch, ok := s.done[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-ch:
		return false
	default:
		return true
	}
}

func (s *stubSupervisor) Stream(_ context.Context, id string) (supervisor.LineScanner, error) {
	s.mu.Lock()
	p, ok := s.procs[id]
	ch := s.done[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	var lines []string
	if p.output != "" {
		lines = strings.Split(p.output, "\n")
	}
	return &scriptScanner{lines: lines, done: ch, skip: p.alive}, nil
}

func (s *stubSupervisor) Wait(_ context.Context, id string) (int, error) { return 0, nil }

type scriptScanner struct {
	lines []string
	i     int
	done  chan struct{}
	skip  bool
}

func (s *scriptScanner) Scan() bool {
	if s.skip {
		<-s.done
		return false
	}
	if s.i >= len(s.lines) {
		return false
	}
	s.i++
	return true
}
func (s *scriptScanner) Text() string { return s.lines[s.i-1] }
func (s *scriptScanner) Err() error   { return nil }
func (s *scriptScanner) Close() error { return nil }

// testAPI wires a Handler to a real SQLite store, real runtime and router,
// and a scripted supervisor.
func testAPI(t *testing.T) (*Handler, *stubSupervisor) {
	t.Helper()
	st, err := sqliteStore.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	agents := agent.NewStatic([]*agent.Agent{
		{ID: "claude-code", Command: "claude", Args: []string{"-p"}, Mode: agent.ModeBatch, Available: true},
		{ID: agent.TerminalID, Command: "sh", Mode: agent.ModeInteractive, Available: true},
	})
	sup := newStubSupervisor()
	bus := eventbus.NewInMemoryBus()

	rt := runtime.NewRuntime(runtime.Config{}, st, agents, sup, bus)
	rt.Start(context.Background())
	t.Cleanup(rt.Stop)

	chats := groupchat.NewRouter(groupchat.Config{ChatsDir: t.TempDir()}, st, agents, sup, bus, rt)
	chats.Start(context.Background())
	t.Cleanup(chats.Stop)

	return New(rt, chats, st, st, agents, bus, nil), sup
}

func doJSON(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := testAPI(t)
	w := doJSON(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected 'ok', got %q", w.Body.String())
	}
}

func TestListAgents(t *testing.T) {
	h, _ := testAPI(t)
	w := doJSON(t, h, http.MethodGet, "/api/agents", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var agents []*agent.Agent
	json.NewDecoder(w.Body).Decode(&agents)
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
}

func TestCreateSessionValidation(t *testing.T) {
	h, _ := testAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/sessions", `{"cwd":"/work"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing agent: expected 400, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/api/sessions", `{"agent":"claude-code"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing cwd: expected 400, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/api/sessions", `{"agent":"ghost","cwd":"/work"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown agent: expected 400, got %d", w.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h, sup := testAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/sessions", `{"agent":"claude-code","cwd":"/work","name":"dev"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sess model.Session
	json.NewDecoder(w.Body).Decode(&sess)
	if sess.ID == "" || sess.ToolType != "claude-code" || sess.Name != "dev" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	w = doJSON(t, h, http.MethodGet, "/api/sessions", "")
	var sessions []*model.Session
	json.NewDecoder(w.Body).Decode(&sessions)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}

	sup.enqueue("Parser refactored.")
	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/input", `{"content":"refactor the parser"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	// The one-shot output lands in the AI log asynchronously.
	deadline := time.Now().Add(3 * time.Second)
	var logs []*model.LogEntry
	for time.Now().Before(deadline) {
		w = doJSON(t, h, http.MethodGet, "/api/sessions/"+sess.ID+"/logs?stream=ai", "")
		logs = nil
		json.NewDecoder(w.Body).Decode(&logs)
		if len(logs) >= 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(logs) < 3 {
		t.Fatalf("expected input, output and exit entries, got %+v", logs)
	}
	if logs[1].Content != "Parser refactored." {
		t.Fatalf("unexpected output entry: %+v", logs[1])
	}

	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stopped model.Session
	json.NewDecoder(w.Body).Decode(&stopped)
	if stopped.State != model.StateIdle {
		t.Fatalf("expected idle after stop, got %q", stopped.State)
	}
}

func TestSessionInputValidation(t *testing.T) {
	h, _ := testAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/sessions/ghost/input", `{"content":"hi"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session: expected 404, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/sessions", `{"agent":"claude-code","cwd":"/work"}`)
	var sess model.Session
	json.NewDecoder(w.Body).Decode(&sess)

	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/input", `{"content":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty content: expected 400, got %d", w.Code)
	}

	long := strings.Repeat("x", 10001)
	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/input", `{"content":"`+long+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized content: expected 400, got %d", w.Code)
	}
}

func TestSetInputMode(t *testing.T) {
	h, _ := testAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/sessions", `{"agent":"claude-code","cwd":"/work"}`)
	var sess model.Session
	json.NewDecoder(w.Body).Decode(&sess)

	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/input-mode", `{"mode":"terminal"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/input-mode", `{"mode":"bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus mode, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/api/sessions/"+sess.ID, "")
	var stored model.Session
	json.NewDecoder(w.Body).Decode(&stored)
	if stored.InputMode != model.InputTerminal {
		t.Fatalf("input mode not persisted: %q", stored.InputMode)
	}
}

func TestChatLifecycle(t *testing.T) {
	h, sup := testAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/chats", `{"name":"planning","moderator_agent":"claude-code"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var chat model.GroupChat
	json.NewDecoder(w.Body).Decode(&chat)
	if chat.ID == "" || !chat.Active {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	sup.enqueue("Nothing to delegate, the answer is 42.")
	w = doJSON(t, h, http.MethodPost, "/api/chats/"+chat.ID+"/messages", `{"content":"what is the answer?"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	var current model.GroupChat
	for time.Now().Before(deadline) {
		w = doJSON(t, h, http.MethodGet, "/api/chats/"+chat.ID, "")
		json.NewDecoder(w.Body).Decode(&current)
		if current.State == model.ChatIdle {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if current.State != model.ChatIdle {
		t.Fatalf("chat never settled: %q", current.State)
	}

	w = doJSON(t, h, http.MethodGet, "/api/chats/"+chat.ID+"/messages", "")
	var msgs []*model.ChatMessage
	json.NewDecoder(w.Body).Decode(&msgs)
	if len(msgs) != 2 || msgs[0].From != model.FromUser || msgs[1].From != model.FromModerator {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}

	w = doJSON(t, h, http.MethodPost, "/api/chats/"+chat.ID+"/close", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/api/chats/"+chat.ID+"/messages", `{"content":"more"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("message to closed chat: expected 400, got %d", w.Code)
	}
}

func TestChatValidation(t *testing.T) {
	h, _ := testAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/chats", `{"moderator_agent":"claude-code"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing name: expected 400, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/api/chats", `{"name":"x","moderator_agent":"ghost"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown moderator: expected 400, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/api/chats/ghost/messages", `{"content":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown chat: expected 400, got %d", w.Code)
	}
}

func TestShareUnconfigured(t *testing.T) {
	h, _ := testAPI(t)
	w := doJSON(t, h, http.MethodPost, "/api/chats", `{"name":"x","moderator_agent":"claude-code"}`)
	var chat model.GroupChat
	json.NewDecoder(w.Body).Decode(&chat)

	w = doJSON(t, h, http.MethodPost, "/api/chats/"+chat.ID+"/share", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestChatEventsReplayAndResume(t *testing.T) {
	h, sup := testAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/chats", `{"name":"planning","moderator_agent":"claude-code"}`)
	var chat model.GroupChat
	json.NewDecoder(w.Body).Decode(&chat)

	sup.enqueue("All wrapped up.")
	doJSON(t, h, http.MethodPost, "/api/chats/"+chat.ID+"/messages", `{"content":"wrap it up"}`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w = doJSON(t, h, http.MethodGet, "/api/chats/"+chat.ID, "")
		var current model.GroupChat
		json.NewDecoder(w.Body).Decode(&current)
		if current.State == model.ChatIdle {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	// First connection replays the full round and ends with the done event.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/chats/"+chat.ID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events request: %v", err)
	}

	var lastID int64
	sawDone := false
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 512)
	for !sawDone {
		n, rerr := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		for _, line := range strings.Split(string(buf), "\n") {
			if strings.HasPrefix(line, "id: ") {
				if id, perr := strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64); perr == nil && id > lastID {
					lastID = id
				}
			}
			if line == "event: done" {
				sawDone = true
			}
		}
		if rerr != nil {
			break
		}
	}
	resp.Body.Close()
	if !sawDone {
		t.Fatal("replay never delivered the done event")
	}
	if lastID == 0 {
		t.Fatal("no event ids seen in replay")
	}

	// Resuming from the last id replays nothing old.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel2()
	req2, _ := http.NewRequestWithContext(ctx2, http.MethodGet, srv.URL+"/api/chats/"+chat.ID+"/events", nil)
	req2.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("resume request: %v", err)
	}
	defer resp2.Body.Close()

	var resumed []byte
	for {
		n, rerr := resp2.Body.Read(chunk)
		resumed = append(resumed, chunk[:n]...)
		if rerr != nil {
			break
		}
	}
	for _, line := range strings.Split(string(resumed), "\n") {
		if strings.HasPrefix(line, "id: ") {
			id, _ := strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64)
			if id <= lastID {
				t.Fatalf("replayed an already-delivered event: %d", id)
			}
		}
	}
}

func TestSessionEventsNotFound(t *testing.T) {
	h, _ := testAPI(t)
	w := doJSON(t, h, http.MethodGet, "/api/sessions/ghost/events", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
