// Package groupchat implements the moderated multi-agent chat protocol: a
// user request goes to a moderator agent, the moderator delegates work to
// participants via @mentions, their replies collapse back into a moderator
// synthesis round, and the loop repeats until a moderator reply contains no
// mentions.
package groupchat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jxucoder/agentdeck/agent"
	"github.com/jxucoder/agentdeck/eventbus"
	"github.com/jxucoder/agentdeck/mention"
	"github.com/jxucoder/agentdeck/model"
	"github.com/jxucoder/agentdeck/store"
	"github.com/jxucoder/agentdeck/supervisor"
)

// Routing errors. ErrChatNotActive and ErrSpawnFailure surface on the
// user-initiated path; internally-triggered paths only log.
var (
	ErrChatNotActive       = errors.New("chat has no active moderator")
	ErrSpawnFailure        = errors.New("process failed to start")
	ErrParticipantNotFound = errors.New("participant not found")
)

// participantColors is cycled through as the roster grows.
var participantColors = []string{"cyan", "magenta", "yellow", "green", "blue", "red"}

// SessionDirectory lists the external sessions a chat can recruit as
// participants via @mention.
type SessionDirectory interface {
	AvailableSessions() ([]*model.Session, error)
}

// Config holds router settings.
type Config struct {
	// ChatsDir is the directory where transcript files are created.
	ChatsDir string
}

// Router orchestrates group chats. All routing for one chat is serialized
// by a per-chat mutex; the pending-set emptiness check and the chat state
// transitions happen under it, which is what makes the synthesis trigger
// fire exactly once per round.
type Router struct {
	config   Config
	store    store.GroupChatStore
	agents   *agent.Registry
	sup      supervisor.Runtime
	bus      eventbus.Bus
	sessions SessionDirectory
	tracker  *Tracker

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter creates a router with all collaborators injected.
func NewRouter(cfg Config, st store.GroupChatStore, agents *agent.Registry, sup supervisor.Runtime, bus eventbus.Bus, sessions SessionDirectory) *Router {
	return &Router{
		config:   cfg,
		store:    st,
		agents:   agents,
		sup:      sup,
		bus:      bus,
		sessions: sessions,
		tracker:  NewTracker(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Start prepares the router for spawning. Call Stop to wait for in-flight
// collector goroutines.
func (r *Router) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
}

// Stop cancels spawned processes and waits for collectors to drain.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Pending returns the participants still awaited in the chat's current round.
func (r *Router) Pending(chatID string) []string {
	return r.tracker.Pending(chatID)
}

// chatLock returns the mutex serializing all routing for one chat.
func (r *Router) chatLock(chatID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[chatID] = l
	}
	return l
}

// CreateGroupChat creates a new active chat moderated by the given agent.
func (r *Router) CreateGroupChat(name, moderatorAgentID string, cfg model.ModeratorConfig) (*model.GroupChat, error) {
	if cfg.CustomPath == "" {
		ag, ok := r.agents.Get(moderatorAgentID)
		if !ok {
			return nil, fmt.Errorf("moderator agent %q not registered", moderatorAgentID)
		}
		if !ag.Available {
			return nil, fmt.Errorf("moderator agent %q is not installed", moderatorAgentID)
		}
	}

	now := time.Now().UTC()
	id := uuid.New().String()[:8]
	chat := &model.GroupChat{
		ID:               id,
		Name:             name,
		ModeratorAgentID: moderatorAgentID,
		ModeratorConfig:  cfg,
		LogPath:          filepath.Join(r.config.ChatsDir, id+".jsonl"),
		Active:           true,
		State:            model.ChatIdle,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.store.CreateGroupChat(chat); err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	log.Info().Str("chat", id).Str("moderator", moderatorAgentID).Msg("Group chat created")
	return chat, nil
}

// AddParticipant binds an existing session into the chat under its session
// name, without waiting for a mention.
func (r *Router) AddParticipant(chatID, sessionID string) (*model.GroupChat, error) {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, err := r.store.GetGroupChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrChatNotActive)
	}
	sessions, err := r.sessions.AvailableSessions()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var sess *model.Session
	for _, s := range sessions {
		if s.ID == sessionID {
			sess = s
			break
		}
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s is not available", sessionID)
	}
	if chat.Participant(sess.Name) != nil {
		return nil, fmt.Errorf("session %q is already a participant", sess.Name)
	}

	if err := r.addSessionAsParticipant(chat, sess); err != nil {
		return nil, err
	}
	r.emitParticipants(chat)
	return r.store.GetGroupChat(chatID)
}

// CloseChat deactivates the chat. In-flight responses for it are dropped.
func (r *Router) CloseChat(chatID string) error {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, err := r.store.GetGroupChat(chatID)
	if err != nil {
		return fmt.Errorf("loading chat %s: %w", chatID, err)
	}
	chat.Active = false
	chat.State = model.ChatIdle
	if err := r.store.UpdateGroupChat(chat); err != nil {
		return fmt.Errorf("closing chat: %w", err)
	}
	r.tracker.Clear(chatID)
	r.emitState(chatID, model.ChatIdle)
	log.Info().Str("chat", chatID).Msg("Group chat closed")
	return nil
}

// RouteUserMessage handles one user request: auto-recruits mentioned
// sessions, persists the message, and spawns a moderator round.
func (r *Router) RouteUserMessage(chatID, text string, readOnly bool) error {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, err := r.store.GetGroupChat(chatID)
	if err != nil {
		return fmt.Errorf("chat %s: %w", chatID, ErrChatNotActive)
	}
	if !chat.Active || chat.ModeratorAgentID == "" {
		return fmt.Errorf("chat %s: %w", chatID, ErrChatNotActive)
	}

	// Every @token counts, including ones naming sessions that are not
	// participants yet; matching available sessions join the roster now.
	r.autoAddMentions(chat, text)

	msg := &model.ChatMessage{
		Timestamp: time.Now().UTC(),
		From:      model.FromUser,
		Content:   text,
		ReadOnly:  readOnly,
	}
	if err := r.store.AppendToLog(chat.LogPath, msg); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	r.emitMessage(chatID, msg)

	chat.ReadOnly = readOnly
	if err := r.store.UpdateGroupChat(chat); err != nil {
		return fmt.Errorf("updating chat: %w", err)
	}

	history := r.transcriptTail(chat, moderatorHistoryLines)
	prompt := buildModeratorPrompt(chat, r.recruitable(chat), history, text)
	if err := r.spawnModerator(chat, prompt, readOnly); err != nil {
		chat.State = model.ChatIdle
		if uerr := r.store.UpdateGroupChat(chat); uerr != nil {
			log.Warn().Err(uerr).Str("chat", chatID).Msg("Failed to persist idle state after spawn failure")
		}
		r.emitState(chatID, model.ChatIdle)
		r.emitEvent(chatID, "error", fmt.Sprintf("moderator failed to start: %v", err))
		return fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}

	chat.State = model.ChatModeratorThinking
	if err := r.store.UpdateGroupChat(chat); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Failed to persist chat state")
	}
	r.emitState(chatID, model.ChatModeratorThinking)
	return nil
}

// RouteModeratorResponse handles a completed moderator round: persists the
// reply, recruits newly mentioned sessions, and either finishes the
// conversation (no mentions) or fans the reply out to every mentioned
// participant.
func (r *Router) RouteModeratorResponse(chatID, text string, readOnly bool) error {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, err := r.store.GetGroupChat(chatID)
	if err != nil {
		return fmt.Errorf("loading chat %s: %w", chatID, err)
	}
	if !chat.Active {
		return fmt.Errorf("chat %s: %w", chatID, ErrChatNotActive)
	}

	msg := &model.ChatMessage{
		Timestamp: time.Now().UTC(),
		From:      model.FromModerator,
		Content:   text,
		ReadOnly:  readOnly,
	}
	if err := r.store.AppendToLog(chat.LogPath, msg); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	r.emitMessage(chatID, msg)

	r.autoAddMentions(chat, text)
	chat, err = r.store.GetGroupChat(chatID)
	if err != nil {
		return fmt.Errorf("reloading chat %s: %w", chatID, err)
	}

	mentioned := mention.Extract(text, chat.ParticipantNames())
	if len(mentioned) == 0 {
		// No delegation: this reply is the final answer.
		chat.State = model.ChatIdle
		if err := r.store.UpdateGroupChat(chat); err != nil {
			log.Warn().Err(err).Str("chat", chatID).Msg("Failed to persist chat state")
		}
		r.emitState(chatID, model.ChatIdle)
		r.emitEvent(chatID, "done", text)
		return nil
	}

	history := r.transcriptTail(chat, participantHistoryLines)
	var spawned []string
	for _, name := range mentioned {
		p := chat.Participant(name)
		ag, ok := r.agents.Get(p.AgentID)
		if !ok || !ag.Available {
			log.Warn().Str("chat", chatID).Str("participant", name).Str("agent", p.AgentID).Msg("Participant agent unavailable, skipping")
			r.emitParticipantState(chatID, name, "failed")
			continue
		}

		procID := fmt.Sprintf("%s-participant-%s-%d", chat.ID, slug(name), time.Now().UnixNano())
		spec := supervisor.Spec{
			ID:      procID,
			Command: ag.Command,
			Args:    ag.Args,
			Env:     ag.Env,
			Prompt:  buildParticipantPrompt(chat, p, history, text),
		}
		if _, err := r.sup.Spawn(r.spawnCtx(), spec); err != nil {
			log.Warn().Err(err).Str("chat", chatID).Str("participant", name).Msg("Participant spawn failed")
			r.emitParticipantState(chatID, name, "failed")
			continue
		}
		spawned = append(spawned, name)
		r.emitParticipantState(chatID, name, "working")
		r.collectParticipant(chatID, name, procID)
	}

	if len(spawned) == 0 {
		// Empty round: every spawn failed. Settle rather than leaving the
		// chat stuck in agent-working with nothing to wait for.
		log.Warn().Str("chat", chatID).Strs("mentioned", mentioned).Msg("No participant spawns succeeded")
		chat.State = model.ChatIdle
		if err := r.store.UpdateGroupChat(chat); err != nil {
			log.Warn().Err(err).Str("chat", chatID).Msg("Failed to persist chat state")
		}
		r.emitState(chatID, model.ChatIdle)
		r.emitEvent(chatID, "error", "no participant could be started for this round")
		return nil
	}

	r.tracker.Begin(chatID, spawned)
	chat.State = model.ChatAgentWorking
	if err := r.store.UpdateGroupChat(chat); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Failed to persist chat state")
	}
	r.emitState(chatID, model.ChatAgentWorking)
	return nil
}

// RouteAgentResponse handles one participant's reply: persists it, updates
// stats and history, and triggers synthesis when it was the round's last.
func (r *Router) RouteAgentResponse(chatID, name, text string) error {
	lock := r.chatLock(chatID)
	lock.Lock()
	wasLast, err := r.handleAgentResponse(chatID, name, text)
	lock.Unlock()
	if err != nil {
		return err
	}
	if wasLast {
		r.SpawnModeratorSynthesis(chatID)
	}
	return nil
}

func (r *Router) handleAgentResponse(chatID, name, text string) (bool, error) {
	chat, err := r.store.GetGroupChat(chatID)
	if err != nil {
		return false, fmt.Errorf("loading chat %s: %w", chatID, err)
	}
	p := chat.Participant(name)
	if p == nil {
		return false, fmt.Errorf("%q in chat %s: %w", name, chatID, ErrParticipantNotFound)
	}

	msg := &model.ChatMessage{
		Timestamp: time.Now().UTC(),
		From:      name,
		Content:   text,
		ReadOnly:  chat.ReadOnly,
	}
	if err := r.store.AppendToLog(chat.LogPath, msg); err != nil {
		return false, fmt.Errorf("appending message: %w", err)
	}
	r.emitMessage(chatID, msg)

	// The participant contract puts a one-sentence summary first.
	summary := model.FirstSentence(text, summaryMaxLen)
	now := time.Now().UTC()

	count := p.MessageCount + 1
	patch := store.ParticipantPatch{
		MessageCount: &count,
		LastActivity: &now,
		LastSummary:  &summary,
	}
	if err := r.store.UpdateParticipant(chatID, name, patch); err != nil {
		// Stats are analytics; losing them never drops the message.
		log.Warn().Err(err).Str("chat", chatID).Str("participant", name).Msg("Failed to update participant stats")
	}

	entry := &model.HistoryEntry{
		Timestamp:   now,
		Participant: name,
		Color:       p.Color,
		Summary:     summary,
		Response:    text,
	}
	if err := r.store.AddHistoryEntry(chatID, entry); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Str("participant", name).Msg("Failed to add history entry")
	} else {
		r.emitHistory(chatID, entry)
	}

	r.emitParticipantState(chatID, name, "done")
	return r.tracker.Mark(chatID, name), nil
}

// SpawnModeratorSynthesis starts the post-round moderator call that folds
// participant replies into one answer. It has no synchronous caller, so
// every failure is logged and swallowed.
func (r *Router) SpawnModeratorSynthesis(chatID string) {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, err := r.store.GetGroupChat(chatID)
	if err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Synthesis skipped: chat not loadable")
		return
	}
	if !chat.Active {
		log.Warn().Str("chat", chatID).Msg("Synthesis skipped: chat closed")
		return
	}
	if chat.State != model.ChatAgentWorking {
		// A newer round has already moved the chat on.
		log.Debug().Str("chat", chatID).Str("state", string(chat.State)).Msg("Synthesis skipped: chat no longer in agent-working")
		return
	}

	history := r.transcriptTail(chat, synthesisHistoryLines)
	prompt := buildSynthesisPrompt(chat, history)
	if err := r.spawnModerator(chat, prompt, chat.ReadOnly); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Synthesis spawn failed")
		chat.State = model.ChatIdle
		if uerr := r.store.UpdateGroupChat(chat); uerr != nil {
			log.Warn().Err(uerr).Str("chat", chatID).Msg("Failed to persist idle state after synthesis failure")
		}
		r.emitState(chatID, model.ChatIdle)
		r.emitEvent(chatID, "error", fmt.Sprintf("synthesis failed to start: %v", err))
		return
	}

	chat.State = model.ChatModeratorThinking
	if err := r.store.UpdateGroupChat(chat); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Failed to persist chat state")
	}
	r.emitState(chatID, model.ChatModeratorThinking)
}

// --- Spawning and collecting ---

// moderatorSpec resolves the moderator command for a chat, applying the
// chat's custom overrides on top of the registered agent.
func (r *Router) moderatorSpec(chat *model.GroupChat, prompt string) (supervisor.Spec, error) {
	var command string
	var args, env []string

	if ag, ok := r.agents.Get(chat.ModeratorAgentID); ok {
		command, args, env = ag.Command, ag.Args, ag.Env
		if !ag.Available && chat.ModeratorConfig.CustomPath == "" {
			return supervisor.Spec{}, fmt.Errorf("moderator agent %q is not installed", chat.ModeratorAgentID)
		}
	}
	cfg := chat.ModeratorConfig
	if cfg.CustomPath != "" {
		command = cfg.CustomPath
	}
	if len(cfg.CustomArgs) > 0 {
		args = cfg.CustomArgs
	}
	if len(cfg.CustomEnvVars) > 0 {
		keys := make([]string, 0, len(cfg.CustomEnvVars))
		for k := range cfg.CustomEnvVars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+cfg.CustomEnvVars[k])
		}
	}
	if command == "" {
		return supervisor.Spec{}, fmt.Errorf("moderator agent %q not resolvable", chat.ModeratorAgentID)
	}

	return supervisor.Spec{
		ID:      fmt.Sprintf("%s-moderator-%d", chat.ID, time.Now().UnixNano()),
		Command: command,
		Args:    args,
		Env:     env,
		Prompt:  prompt,
	}, nil
}

func (r *Router) spawnModerator(chat *model.GroupChat, prompt string, readOnly bool) error {
	spec, err := r.moderatorSpec(chat, prompt)
	if err != nil {
		return err
	}
	if _, err := r.sup.Spawn(r.spawnCtx(), spec); err != nil {
		return err
	}
	r.collectModerator(chat.ID, spec.ID, readOnly)
	return nil
}

// collectModerator drains one moderator process and routes its output back
// into the protocol.
func (r *Router) collectModerator(chatID, procID string, readOnly bool) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		output, code, err := r.collect(procID)
		if err != nil {
			log.Warn().Err(err).Str("chat", chatID).Str("proc", procID).Msg("Moderator stream error")
		}
		if strings.TrimSpace(output) == "" {
			log.Warn().Str("chat", chatID).Int("code", code).Msg("Moderator produced no output")
			r.settleIdle(chatID, fmt.Sprintf("moderator exited with code %d and no output", code))
			return
		}
		if err := r.RouteModeratorResponse(chatID, output, readOnly); err != nil {
			log.Warn().Err(err).Str("chat", chatID).Msg("Moderator response not routable")
		}
	}()
}

// collectParticipant drains one participant process and routes its reply.
func (r *Router) collectParticipant(chatID, name, procID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		output, code, err := r.collect(procID)
		if err != nil {
			log.Warn().Err(err).Str("chat", chatID).Str("participant", name).Msg("Participant stream error")
		}
		if strings.TrimSpace(output) == "" {
			// Route the failure as a reply so the round still completes.
			output = fmt.Sprintf("(exited with code %d without producing output)", code)
		}
		if err := r.RouteAgentResponse(chatID, name, output); err != nil {
			log.Warn().Err(err).Str("chat", chatID).Str("participant", name).Msg("Participant response not routable")
		}
	}()
}

// collect reads a one-shot process to EOF and reaps it.
func (r *Router) collect(procID string) (string, int, error) {
	ctx := r.spawnCtx()
	stream, err := r.sup.Stream(ctx, procID)
	if err != nil {
		return "", -1, err
	}
	var lines []string
	for stream.Scan() {
		lines = append(lines, stream.Text())
	}
	stream.Close()
	code, err := r.sup.Wait(ctx, procID)
	return strings.Join(lines, "\n"), code, err
}

func (r *Router) spawnCtx() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// settleIdle moves a chat back to idle and surfaces errMsg to observers.
func (r *Router) settleIdle(chatID, errMsg string) {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, err := r.store.GetGroupChat(chatID)
	if err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Failed to load chat while settling")
		return
	}
	chat.State = model.ChatIdle
	if err := r.store.UpdateGroupChat(chat); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Failed to persist chat state")
	}
	r.emitState(chatID, model.ChatIdle)
	if errMsg != "" {
		r.emitEvent(chatID, "error", errMsg)
	}
}

// --- Mention auto-add ---

// autoAddMentions recruits every @token that names an available session not
// yet in the roster. One bad mention never blocks the others. Mutates
// chat.Participants in place on success.
func (r *Router) autoAddMentions(chat *model.GroupChat, text string) {
	tokens := mention.ExtractAll(text)
	if len(tokens) == 0 {
		return
	}
	sessions, err := r.sessions.AvailableSessions()
	if err != nil {
		log.Warn().Err(err).Str("chat", chat.ID).Msg("Failed to list sessions for auto-add")
		return
	}

	added := false
	for _, tok := range tokens {
		if matchesRoster(chat, tok) {
			continue
		}
		sess := matchSession(sessions, tok)
		if sess == nil || chat.Participant(sess.Name) != nil {
			continue
		}
		if err := r.addSessionAsParticipant(chat, sess); err != nil {
			log.Warn().Err(err).Str("chat", chat.ID).Str("session", sess.Name).Msg("Failed to auto-add participant")
			continue
		}
		added = true
	}
	if added {
		r.emitParticipants(chat)
	}
}

// addSessionAsParticipant persists a new participant derived from a session
// and appends it to the in-memory roster.
func (r *Router) addSessionAsParticipant(chat *model.GroupChat, sess *model.Session) error {
	p := &model.Participant{
		Name:     sess.Name,
		AgentID:  sess.ToolType,
		Color:    participantColors[len(chat.Participants)%len(participantColors)],
		JoinedAt: time.Now().UTC(),
	}
	if err := r.store.AddParticipant(chat.ID, p); err != nil {
		return fmt.Errorf("adding participant %q: %w", sess.Name, err)
	}
	chat.Participants = append(chat.Participants, p)
	log.Info().Str("chat", chat.ID).Str("participant", p.Name).Str("agent", p.AgentID).Msg("Participant joined")
	return nil
}

// recruitable returns available sessions that are not participants yet,
// offered to the moderator as mention candidates.
func (r *Router) recruitable(chat *model.GroupChat) []*model.Session {
	sessions, err := r.sessions.AvailableSessions()
	if err != nil {
		log.Warn().Err(err).Str("chat", chat.ID).Msg("Failed to list sessions for prompt")
		return nil
	}
	var out []*model.Session
	for _, s := range sessions {
		if chat.Participant(s.Name) == nil {
			out = append(out, s)
		}
	}
	return out
}

func matchesRoster(chat *model.GroupChat, token string) bool {
	for _, p := range chat.Participants {
		if mention.Matches(token, p.Name) {
			return true
		}
	}
	return false
}

func matchSession(sessions []*model.Session, token string) *model.Session {
	for _, s := range sessions {
		if mention.Matches(token, s.Name) {
			return s
		}
	}
	return nil
}

// slug normalizes a participant name for use inside a process id.
func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// --- Transcript and events ---

// transcriptTail returns the last n transcript messages for prompt building.
func (r *Router) transcriptTail(chat *model.GroupChat, n int) []*model.ChatMessage {
	msgs, err := r.store.ReadLog(chat.LogPath)
	if err != nil {
		log.Warn().Err(err).Str("chat", chat.ID).Msg("Failed to read transcript")
		return nil
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

func (r *Router) emitEvent(chatID, eventType, data string) {
	event := &model.Event{
		Topic:     eventbus.ChatTopic(chatID),
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AddEvent(event); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("Failed to persist event")
	}
	r.bus.Publish(event.Topic, event)
}

func (r *Router) emitMessage(chatID string, msg *model.ChatMessage) {
	data, _ := json.Marshal(msg)
	r.emitEvent(chatID, "message", string(data))
}

func (r *Router) emitState(chatID string, state model.ChatState) {
	r.emitEvent(chatID, "state", string(state))
}

func (r *Router) emitParticipants(chat *model.GroupChat) {
	data, _ := json.Marshal(chat.Participants)
	r.emitEvent(chat.ID, "participants", string(data))
}

func (r *Router) emitParticipantState(chatID, name, status string) {
	r.emitEvent(chatID, "participant-state", name+":"+status)
}

func (r *Router) emitHistory(chatID string, entry *model.HistoryEntry) {
	data, _ := json.Marshal(entry)
	r.emitEvent(chatID, "history", string(data))
}
