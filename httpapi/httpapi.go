// Package httpapi provides the HTTP API for agentdeck. It delegates all
// business logic to the session runtime and the group-chat router.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/jxucoder/agentdeck/agent"
	"github.com/jxucoder/agentdeck/eventbus"
	"github.com/jxucoder/agentdeck/groupchat"
	"github.com/jxucoder/agentdeck/model"
	"github.com/jxucoder/agentdeck/runtime"
	"github.com/jxucoder/agentdeck/store"
)

// Sharer exports a chat transcript somewhere public and returns its URL.
type Sharer interface {
	ShareChat(ctx context.Context, chatID string) (string, error)
}

// Handler provides the HTTP API for agentdeck.
type Handler struct {
	sessions *runtime.Runtime
	chats    *groupchat.Router
	sstore   store.SessionStore
	cstore   store.GroupChatStore
	agents   *agent.Registry
	bus      eventbus.Bus
	sharer   Sharer
	router   chi.Router
}

// New creates a new HTTP API handler. sharer may be nil, which disables the
// share endpoint.
func New(rt *runtime.Runtime, chats *groupchat.Router, sstore store.SessionStore, cstore store.GroupChatStore, agents *agent.Registry, bus eventbus.Bus, sharer Sharer) *Handler {
	h := &Handler{
		sessions: rt,
		chats:    chats,
		sstore:   sstore,
		cstore:   cstore,
		agents:   agents,
		bus:      bus,
		sharer:   sharer,
	}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/agents", h.handleListAgents)

			r.Post("/sessions", h.handleCreateSession)
			r.Get("/sessions", h.handleListSessions)
			r.Get("/sessions/{id}", h.handleGetSession)
			r.Get("/sessions/{id}/logs", h.handleGetSessionLogs)
			r.Post("/sessions/{id}/input", h.handleSessionInput)
			r.Post("/sessions/{id}/input-mode", h.handleSetInputMode)
			r.Post("/sessions/{id}/stop", h.handleStopSession)

			r.Post("/chats", h.handleCreateChat)
			r.Get("/chats", h.handleListChats)
			r.Get("/chats/{id}", h.handleGetChat)
			r.Get("/chats/{id}/messages", h.handleGetChatMessages)
			r.Post("/chats/{id}/messages", h.handleSendChatMessage)
			r.Get("/chats/{id}/history", h.handleGetChatHistory)
			r.Post("/chats/{id}/participants", h.handleAddParticipant)
			r.Post("/chats/{id}/close", h.handleCloseChat)
			r.Post("/chats/{id}/share", h.handleShareChat)
		})

		// SSE endpoints stream indefinitely and must not run under the
		// request timeout.
		r.Get("/sessions/{id}/events", h.handleSessionEvents)
		r.Get("/chats/{id}/events", h.handleChatEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createSessionRequest struct {
	Agent string `json:"agent"`
	Cwd   string `json:"cwd"`
	Name  string `json:"name,omitempty"`
}

type inputRequest struct {
	Content string `json:"content"`
}

type inputModeRequest struct {
	Mode string `json:"mode"`
}

type createChatRequest struct {
	Name            string                `json:"name"`
	ModeratorAgent  string                `json:"moderator_agent"`
	ModeratorConfig model.ModeratorConfig `json:"moderator_config,omitempty"`
}

type chatMessageRequest struct {
	Content  string `json:"content"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

type addParticipantRequest struct {
	SessionID string `json:"session_id"`
}

type shareResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Agent handlers ---

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agents.List())
}

// --- Session handlers ---

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Agent = strings.TrimSpace(req.Agent)
	req.Cwd = strings.TrimSpace(req.Cwd)
	if req.Agent == "" {
		writeError(w, http.StatusBadRequest, "agent is required")
		return
	}
	if req.Cwd == "" {
		writeError(w, http.StatusBadRequest, "cwd is required")
		return
	}

	sess, err := h.sessions.CreateSession(req.Agent, req.Cwd, strings.TrimSpace(req.Name))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		log.Warn().Err(err).Str("agent", req.Agent).Msg("Session creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sstore.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		log.Warn().Err(err).Msg("Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.sstore.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleGetSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = model.StreamAI
	}
	if stream != model.StreamAI && stream != model.StreamShell {
		writeError(w, http.StatusBadRequest, "stream must be 'ai' or 'shell'")
		return
	}
	if _, err := h.sstore.GetSession(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	logs, err := h.sstore.GetSessionLogs(id, stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get logs")
		return
	}
	if logs == nil {
		logs = []*model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len([]rune(req.Content)) > 10000 {
		writeError(w, http.StatusBadRequest, "content exceeds 10000 characters")
		return
	}

	if err := h.sessions.RouteInput(id, req.Content); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleSetInputMode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req inputModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.sessions.SetInputMode(id, model.InputMode(req.Mode)); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.StopSession(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	sess, err := h.sstore.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.sstore.GetSession(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.streamEvents(w, r, eventbus.SessionTopic(id), h.sstore)
}

// --- Chat handlers ---

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.ModeratorAgent = strings.TrimSpace(req.ModeratorAgent)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ModeratorAgent == "" && req.ModeratorConfig.CustomPath == "" {
		writeError(w, http.StatusBadRequest, "moderator_agent is required")
		return
	}

	chat, err := h.chats.CreateGroupChat(req.Name, req.ModeratorAgent, req.ModeratorConfig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.cstore.ListGroupChats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		log.Warn().Err(err).Msg("Failed to list chats")
		return
	}
	if chats == nil {
		chats = []*model.GroupChat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chat, err := h.cstore.GetGroupChat(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *Handler) handleGetChatMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chat, err := h.cstore.GetGroupChat(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	msgs, err := h.cstore.ReadLog(chat.LogPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	if msgs == nil {
		msgs = []*model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleSendChatMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len([]rune(req.Content)) > 10000 {
		writeError(w, http.StatusBadRequest, "content exceeds 10000 characters")
		return
	}

	if err := h.chats.RouteUserMessage(id, req.Content, req.ReadOnly); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleGetChatHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.cstore.GetHistory(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}
	if entries == nil {
		entries = []*model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req addParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	chat, err := h.chats.AddParticipant(id, req.SessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *Handler) handleCloseChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.chats.CloseChat(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleShareChat(w http.ResponseWriter, r *http.Request) {
	if h.sharer == nil {
		writeError(w, http.StatusServiceUnavailable, "sharing is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	url, err := h.sharer.ShareChat(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		log.Warn().Err(err).Str("chat", id).Msg("Share failed")
		return
	}
	writeJSON(w, http.StatusCreated, shareResponse{URL: url})
}

func (h *Handler) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.cstore.GetGroupChat(id); err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	h.streamEvents(w, r, eventbus.ChatTopic(id), h.cstore)
}

// --- SSE ---

// eventSource is the slice of the store an SSE replay needs.
type eventSource interface {
	GetEvents(topic string, afterID int64) ([]*model.Event, error)
}

// streamEvents replays the topic's persisted events, honoring Last-Event-ID,
// then forwards live events until the client disconnects.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, topic string, src eventSource) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var afterID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterID = n
		}
	}

	// Subscribe before replaying so nothing published in between is lost;
	// duplicates are filtered by id below.
	ch := h.bus.Subscribe(topic)
	defer h.bus.Unsubscribe(topic, ch)

	events, err := src.GetEvents(topic, afterID)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to load events for replay")
		events = nil
	}
	lastID := afterID
	for _, e := range events {
		writeSSE(w, e)
		lastID = e.ID
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID <= lastID {
				continue
			}
			lastID = event.ID
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, groupchat.ErrChatNotActive):
		return http.StatusBadRequest
	case errors.Is(err, runtime.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, runtime.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, groupchat.ErrSpawnFailure), errors.Is(err, runtime.ErrSpawnFailure):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Msg("Event marshal failed")
		return
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data)); err != nil {
		log.Warn().Err(err).Msg("Event write failed")
	}
}
