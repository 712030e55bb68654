// Package runtime owns the dual-process lifecycle of agent sessions. Every
// session is backed by two independently owned OS processes, an AI agent and
// a terminal shell, addressed by the {id}-ai / {id}-terminal suffix
// convention. The runtime spawns them, restores them after a restart, routes
// input to one of the two by the session's input mode, and folds their output
// streams back into per-session logs.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jxucoder/agentdeck/agent"
	"github.com/jxucoder/agentdeck/eventbus"
	"github.com/jxucoder/agentdeck/model"
	"github.com/jxucoder/agentdeck/store"
	"github.com/jxucoder/agentdeck/supervisor"
)

// ErrSpawnFailure marks a process that failed to start. A failed spawn is the
// only session-fatal condition; process exits, even nonzero, are not.
var ErrSpawnFailure = errors.New("process failed to start")

// ErrSessionNotFound marks operations against an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionBusy rejects a batch message while the previous one-shot is
// still running; batch agents handle one message at a time.
var ErrSessionBusy = errors.New("session is busy")

// resumeMarker prefixes AI-stream lines carrying the agent's resume token.
// Marker lines are captured into the session and kept out of the log.
const resumeMarker = "###AGENTDECK_SESSION### "

// coalesceWindow merges consecutive same-stream chunks into one growing log
// entry. A readability optimization, not a protocol guarantee.
const coalesceWindow = 500 * time.Millisecond

// commandHistoryCap bounds the per-session terminal command history.
const commandHistoryCap = 100

// Config holds runtime settings.
type Config struct {
	// DefaultAgentID substitutes for a corrupted AI agent during restore.
	DefaultAgentID string
}

// cursor tracks the log entry currently absorbing a stream's output.
type cursor struct {
	entryID int64
	content string
	last    time.Time
}

// Runtime supervises all sessions. Per-session mutations are serialized by a
// lazily created per-session mutex; stream cursors have their own lock since
// pumps touch them outside the session lock.
type Runtime struct {
	config Config
	store  store.SessionStore
	agents *agent.Registry
	sup    supervisor.Runtime
	bus    eventbus.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	cmu     sync.Mutex
	cursors map[string]*cursor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntime creates a session runtime with all collaborators injected.
func NewRuntime(cfg Config, st store.SessionStore, agents *agent.Registry, sup supervisor.Runtime, bus eventbus.Bus) *Runtime {
	if cfg.DefaultAgentID == "" {
		cfg.DefaultAgentID = "claude-code"
	}
	return &Runtime{
		config:  cfg,
		store:   st,
		agents:  agents,
		sup:     sup,
		bus:     bus,
		locks:   make(map[string]*sync.Mutex),
		cursors: make(map[string]*cursor),
	}
}

// Start prepares the runtime for spawning.
func (r *Runtime) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
}

// Stop kills every live session process and waits for pumps to drain.
func (r *Runtime) Stop() {
	sessions, err := r.store.ListSessions()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list sessions during shutdown")
	}
	for _, sess := range sessions {
		_ = r.sup.Kill(aiProcID(sess.ID))
		_ = r.sup.Kill(terminalProcID(sess.ID))
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func aiProcID(sessionID string) string       { return sessionID + "-ai" }
func terminalProcID(sessionID string) string { return sessionID + "-terminal" }

func procID(sessionID, stream string) string {
	if stream == model.StreamAI {
		return aiProcID(sessionID)
	}
	return terminalProcID(sessionID)
}

func (r *Runtime) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}

// CreateSession spawns a new dual-process session. Interactive agents get
// their AI process immediately; batch agents spawn lazily on first message.
// The session is only persisted once every attempted spawn succeeded.
func (r *Runtime) CreateSession(agentID, cwd, name string) (*model.Session, error) {
	ag, ok := r.agents.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("agent %q not registered", agentID)
	}
	if !ag.Available {
		return nil, fmt.Errorf("agent %q is not installed", agentID)
	}
	if agentID == agent.TerminalID {
		return nil, fmt.Errorf("agent %q is the terminal shell, not an AI agent", agentID)
	}
	term := r.agents.Terminal()
	if term == nil {
		return nil, fmt.Errorf("terminal agent not registered")
	}

	id := uuid.New().String()[:8]
	if name == "" {
		name = agentID + "-" + id
	}
	now := time.Now().UTC()
	sess := &model.Session{
		ID:        id,
		Name:      name,
		ToolType:  agentID,
		State:     model.StateIdle,
		Cwd:       cwd,
		InputMode: model.InputAI,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if ag.Mode == agent.ModeInteractive {
		pid, err := r.sup.Spawn(r.runCtx(), supervisor.Spec{
			ID:      aiProcID(id),
			Command: ag.Command,
			Args:    ag.Args,
			Cwd:     cwd,
			Env:     ag.Env,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: ai process: %v", ErrSpawnFailure, err)
		}
		sess.AIPID = pid
	}

	termPID, err := r.sup.Spawn(r.runCtx(), supervisor.Spec{
		ID:      terminalProcID(id),
		Command: term.Command,
		Args:    term.Args,
		Cwd:     cwd,
		Env:     term.Env,
	})
	if err != nil {
		// The spawns are not transactional; reap the AI process rather than
		// leaving it orphaned.
		if sess.AIPID != 0 {
			_ = r.sup.Kill(aiProcID(id))
		}
		return nil, fmt.Errorf("%w: terminal process: %v", ErrSpawnFailure, err)
	}
	sess.TerminalPID = termPID

	if err := r.store.CreateSession(sess); err != nil {
		_ = r.sup.Kill(aiProcID(id))
		_ = r.sup.Kill(terminalProcID(id))
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	if sess.AIPID != 0 {
		r.pump(id, model.StreamAI)
	}
	r.pump(id, model.StreamShell)

	log.Info().Str("session", id).Str("agent", agentID).Str("cwd", cwd).Msg("Session created")
	r.emitState(id, model.StateIdle)
	return sess, nil
}

// RestoreSession re-spawns the processes of a persisted session after a
// restart. On failure the session is marked errored with sentinel handles;
// its logs are never touched.
func (r *Runtime) RestoreSession(sess *model.Session) error {
	lock := r.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	// A session whose AI role points at the terminal agent cannot have been
	// created through this runtime; heal it instead of spawning two shells.
	if sess.ToolType == agent.TerminalID {
		substitute := r.config.DefaultAgentID
		log.Warn().Str("session", sess.ID).Str("substitute", substitute).Msg("Session AI role was the terminal agent, substituting default")
		r.appendSystemEntry(sess.ID, model.StreamAI,
			fmt.Sprintf("agent was misconfigured as the terminal shell; substituted %s", substitute))
		sess.ToolType = substitute
	}

	ag, ok := r.agents.Get(sess.ToolType)
	if !ok {
		return r.failRestore(sess, fmt.Sprintf("agent %q no longer registered", sess.ToolType))
	}
	term := r.agents.Terminal()
	if term == nil {
		return r.failRestore(sess, "terminal agent not registered")
	}

	sess.AIPID = 0
	sess.TerminalPID = 0

	if ag.Mode == agent.ModeInteractive {
		pid, err := r.sup.Spawn(r.runCtx(), supervisor.Spec{
			ID:      aiProcID(sess.ID),
			Command: ag.Command,
			Args:    ag.Args,
			Cwd:     sess.Cwd,
			Env:     ag.Env,
		})
		if err != nil {
			return r.failRestore(sess, fmt.Sprintf("ai process: %v", err))
		}
		sess.AIPID = pid
	}

	termPID, err := r.sup.Spawn(r.runCtx(), supervisor.Spec{
		ID:      terminalProcID(sess.ID),
		Command: term.Command,
		Args:    term.Args,
		Cwd:     sess.Cwd,
		Env:     term.Env,
	})
	if err != nil {
		if sess.AIPID != 0 {
			_ = r.sup.Kill(aiProcID(sess.ID))
		}
		return r.failRestore(sess, fmt.Sprintf("terminal process: %v", err))
	}
	sess.TerminalPID = termPID

	sess.State = model.StateIdle
	sess.Error = ""
	sess.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSession(sess); err != nil {
		return fmt.Errorf("persisting restored session: %w", err)
	}

	if sess.AIPID != 0 {
		r.pump(sess.ID, model.StreamAI)
	}
	r.pump(sess.ID, model.StreamShell)

	log.Info().Str("session", sess.ID).Str("agent", sess.ToolType).Msg("Session restored")
	r.emitState(sess.ID, model.StateIdle)
	return nil
}

// failRestore records a failed restore: error state, sentinel handles, logs
// preserved.
func (r *Runtime) failRestore(sess *model.Session, msg string) error {
	log.Warn().Str("session", sess.ID).Str("error", msg).Msg("Session restore failed")
	sess.State = model.StateError
	sess.Error = msg
	sess.AIPID = model.NoProcess
	sess.TerminalPID = model.NoProcess
	sess.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSession(sess); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to persist errored session")
	}
	r.emitState(sess.ID, model.StateError)
	return fmt.Errorf("%w: %s", ErrSpawnFailure, msg)
}

// RestoreAll restores every stored session at startup. Failures are recorded
// per session and never stop the sweep.
func (r *Runtime) RestoreAll() {
	sessions, err := r.store.ListSessions()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list sessions for restore")
		return
	}
	for _, sess := range sessions {
		if err := r.RestoreSession(sess); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Msg("Session not restored")
		}
	}
}

// RouteInput delivers one piece of user input to the process selected by the
// session's input mode. Batch AI agents get a fresh one-shot process per
// message, resuming prior context via the stored resume token.
func (r *Runtime) RouteInput(sessionID, text string) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	if sess.InputMode == model.InputTerminal {
		return r.routeTerminalInput(sess, text)
	}
	return r.routeAIInput(sess, text)
}

func (r *Runtime) routeAIInput(sess *model.Session, text string) error {
	ag, ok := r.agents.Get(sess.ToolType)
	if !ok {
		return fmt.Errorf("agent %q not registered", sess.ToolType)
	}

	if ag.Mode == agent.ModeBatch {
		if r.sup.IsRunning(aiProcID(sess.ID)) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrSessionBusy)
		}
		r.appendUserEntry(sess.ID, model.StreamAI, text)

		args := ag.Args
		if ag.ResumeFlag != "" && sess.ResumeToken != "" {
			args = append(append([]string(nil), args...), ag.ResumeFlag, sess.ResumeToken)
		}
		pid, err := r.sup.Spawn(r.runCtx(), supervisor.Spec{
			ID:      aiProcID(sess.ID),
			Command: ag.Command,
			Args:    args,
			Cwd:     sess.Cwd,
			Env:     ag.Env,
			Prompt:  text,
		})
		if err != nil {
			r.failSession(sess, fmt.Sprintf("ai process: %v", err))
			return fmt.Errorf("%w: %v", ErrSpawnFailure, err)
		}
		sess.AIPID = pid
		sess.State = model.StateBusy
		sess.UpdatedAt = time.Now().UTC()
		if err := r.store.UpdateSession(sess); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to persist session state")
		}
		r.pump(sess.ID, model.StreamAI)
		r.emitState(sess.ID, model.StateBusy)
		return nil
	}

	// Interactive: write to the live process, re-spawning it if it died.
	r.appendUserEntry(sess.ID, model.StreamAI, text)
	if !r.sup.IsRunning(aiProcID(sess.ID)) {
		pid, err := r.sup.Spawn(r.runCtx(), supervisor.Spec{
			ID:      aiProcID(sess.ID),
			Command: ag.Command,
			Args:    ag.Args,
			Cwd:     sess.Cwd,
			Env:     ag.Env,
		})
		if err != nil {
			r.failSession(sess, fmt.Sprintf("ai process: %v", err))
			return fmt.Errorf("%w: %v", ErrSpawnFailure, err)
		}
		sess.AIPID = pid
		sess.UpdatedAt = time.Now().UTC()
		if err := r.store.UpdateSession(sess); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to persist session state")
		}
		r.pump(sess.ID, model.StreamAI)
	}
	if err := r.sup.Write(aiProcID(sess.ID), []byte(text)); err != nil {
		return fmt.Errorf("writing to ai process: %w", err)
	}
	return nil
}

func (r *Runtime) routeTerminalInput(sess *model.Session, text string) error {
	term := r.agents.Terminal()
	if term == nil {
		return fmt.Errorf("terminal agent not registered")
	}

	if cmd := strings.TrimSpace(text); cmd != "" {
		sess.CommandHistory = append(sess.CommandHistory, cmd)
		if len(sess.CommandHistory) > commandHistoryCap {
			sess.CommandHistory = sess.CommandHistory[len(sess.CommandHistory)-commandHistoryCap:]
		}
		sess.UpdatedAt = time.Now().UTC()
		if err := r.store.UpdateSession(sess); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to persist command history")
		}
	}
	r.appendUserEntry(sess.ID, model.StreamShell, text)

	if !r.sup.IsRunning(terminalProcID(sess.ID)) {
		pid, err := r.sup.Spawn(r.runCtx(), supervisor.Spec{
			ID:      terminalProcID(sess.ID),
			Command: term.Command,
			Args:    term.Args,
			Cwd:     sess.Cwd,
			Env:     term.Env,
		})
		if err != nil {
			r.failSession(sess, fmt.Sprintf("terminal process: %v", err))
			return fmt.Errorf("%w: %v", ErrSpawnFailure, err)
		}
		sess.TerminalPID = pid
		sess.UpdatedAt = time.Now().UTC()
		if err := r.store.UpdateSession(sess); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to persist session state")
		}
		r.pump(sess.ID, model.StreamShell)
	}
	// The shell needs the line terminator the UI never sends.
	if err := r.sup.Write(terminalProcID(sess.ID), []byte(text+"\n")); err != nil {
		return fmt.Errorf("writing to terminal process: %w", err)
	}
	return nil
}

// SetInputMode switches which process receives subsequent input.
func (r *Runtime) SetInputMode(sessionID string, mode model.InputMode) error {
	if mode != model.InputAI && mode != model.InputTerminal {
		return fmt.Errorf("unknown input mode %q", mode)
	}
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	sess.InputMode = mode
	sess.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSession(sess); err != nil {
		return fmt.Errorf("persisting input mode: %w", err)
	}
	r.emitEvent(sessionID, "input-mode", string(mode))
	return nil
}

// StopSession kills both of a session's processes and settles it to idle.
// The session row and all logs survive; RestoreSession can revive it.
func (r *Runtime) StopSession(sessionID string) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	_ = r.sup.Kill(aiProcID(sessionID))
	_ = r.sup.Kill(terminalProcID(sessionID))

	sess.AIPID = 0
	sess.TerminalPID = 0
	sess.State = model.StateIdle
	sess.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSession(sess); err != nil {
		return fmt.Errorf("persisting stopped session: %w", err)
	}
	r.appendSystemEntry(sessionID, model.StreamAI, "session stopped")
	r.emitState(sessionID, model.StateIdle)
	log.Info().Str("session", sessionID).Msg("Session stopped")
	return nil
}

// AvailableSessions returns the idle sessions, the set a group chat may
// recruit from by mention.
func (r *Runtime) AvailableSessions() ([]*model.Session, error) {
	sessions, err := r.store.ListSessions()
	if err != nil {
		return nil, err
	}
	var out []*model.Session
	for _, s := range sessions {
		if s.State == model.StateIdle {
			out = append(out, s)
		}
	}
	return out, nil
}

// --- Stream pumps ---

// pump drains one process stream into the session's log until EOF, then
// reaps the process and records its exit.
func (r *Runtime) pump(sessionID, stream string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		id := procID(sessionID, stream)
		lines, err := r.sup.Stream(r.runCtx(), id)
		if err != nil {
			log.Warn().Err(err).Str("session", sessionID).Str("stream", stream).Msg("Stream unavailable")
			return
		}
		for lines.Scan() {
			r.onProcessData(sessionID, stream, lines.Text())
		}
		lines.Close()
		code, _ := r.sup.Wait(r.runCtx(), id)
		r.onProcessExit(sessionID, stream, code)
	}()
}

// onProcessData appends one output line to the stream's log, coalescing
// lines that arrive within coalesceWindow into one growing entry.
func (r *Runtime) onProcessData(sessionID, stream, line string) {
	if stream == model.StreamAI && strings.HasPrefix(line, resumeMarker) {
		r.captureResumeToken(sessionID, strings.TrimSpace(strings.TrimPrefix(line, resumeMarker)))
		return
	}

	key := sessionID + ":" + stream
	now := time.Now()

	r.cmu.Lock()
	defer r.cmu.Unlock()

	if c, ok := r.cursors[key]; ok && now.Sub(c.last) < coalesceWindow {
		c.content += "\n" + line
		c.last = now
		if err := r.store.UpdateSessionLog(c.entryID, c.content); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("Failed to coalesce log entry")
		}
		r.emitLog(sessionID, stream, line)
		return
	}

	entry := &model.LogEntry{
		Timestamp: now.UTC(),
		From:      "assistant",
		Content:   line,
	}
	if err := r.store.AddSessionLog(sessionID, stream, entry); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Str("stream", stream).Msg("Failed to append log entry")
		return
	}
	r.cursors[key] = &cursor{entryID: entry.ID, content: line, last: now}
	r.emitLog(sessionID, stream, line)
}

// onProcessExit records a process exit and settles the session back to idle.
// A nonzero code is informational, not fatal.
func (r *Runtime) onProcessExit(sessionID, stream string, code int) {
	r.cmu.Lock()
	delete(r.cursors, sessionID+":"+stream)
	r.cmu.Unlock()

	r.appendSystemEntry(sessionID, stream, fmt.Sprintf("process exited with code %d", code))

	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Exited process has no session")
		return
	}
	if stream == model.StreamAI {
		sess.AIPID = 0
	} else {
		sess.TerminalPID = 0
	}
	wasBusy := sess.State == model.StateBusy
	if wasBusy {
		sess.State = model.StateIdle
	}
	sess.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSession(sess); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to persist session after exit")
	}
	r.emitEvent(sessionID, "exit", fmt.Sprintf("%s:%d", stream, code))
	if wasBusy {
		r.emitState(sessionID, model.StateIdle)
	}
}

// captureResumeToken stores the token an AI process announced on its stream.
func (r *Runtime) captureResumeToken(sessionID, token string) {
	if token == "" {
		return
	}
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Resume token for unknown session")
		return
	}
	sess.ResumeToken = token
	sess.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSession(sess); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to persist resume token")
	}
	log.Debug().Str("session", sessionID).Msg("Resume token captured")
}

// failSession marks a session errored after a failed spawn.
func (r *Runtime) failSession(sess *model.Session, msg string) {
	log.Warn().Str("session", sess.ID).Str("error", msg).Msg("Session failed")
	sess.State = model.StateError
	sess.Error = msg
	sess.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSession(sess); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to persist errored session")
	}
	r.emitState(sess.ID, model.StateError)
	r.emitEvent(sess.ID, "error", msg)
}

func (r *Runtime) runCtx() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// --- Log and event helpers ---

func (r *Runtime) appendUserEntry(sessionID, stream, text string) {
	entry := &model.LogEntry{Timestamp: time.Now().UTC(), From: "user", Content: text}
	if err := r.store.AddSessionLog(sessionID, stream, entry); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Str("stream", stream).Msg("Failed to append user entry")
		return
	}
	r.emitLog(sessionID, stream, text)
}

func (r *Runtime) appendSystemEntry(sessionID, stream, text string) {
	entry := &model.LogEntry{Timestamp: time.Now().UTC(), From: "system", Content: text}
	if err := r.store.AddSessionLog(sessionID, stream, entry); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Str("stream", stream).Msg("Failed to append system entry")
		return
	}
	r.emitLog(sessionID, stream, text)
}

func (r *Runtime) emitEvent(sessionID, eventType, data string) {
	event := &model.Event{
		Topic:     eventbus.SessionTopic(sessionID),
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AddEvent(event); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to persist event")
	}
	r.bus.Publish(event.Topic, event)
}

func (r *Runtime) emitState(sessionID string, state model.SessionState) {
	r.emitEvent(sessionID, "state", string(state))
}

func (r *Runtime) emitLog(sessionID, stream, content string) {
	data, _ := json.Marshal(map[string]string{"stream": stream, "content": content})
	r.emitEvent(sessionID, "log", string(data))
}
