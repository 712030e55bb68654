// Package model defines the core domain types shared across all agentdeck packages.
// It has zero dependencies on other agentdeck packages.
package model

import "time"

// SessionState represents the current state of a session.
type SessionState string

const (
	StateIdle  SessionState = "idle"
	StateBusy  SessionState = "busy"
	StateError SessionState = "error"
)

// InputMode selects which of a session's two processes receives keystrokes.
type InputMode string

const (
	InputAI       InputMode = "ai"
	InputTerminal InputMode = "terminal"
)

// ChatState represents the routing state of a group chat.
type ChatState string

const (
	ChatIdle              ChatState = "idle"
	ChatModeratorThinking ChatState = "moderator-thinking"
	ChatAgentWorking      ChatState = "agent-working"
)

// Process handle sentinels. A handle of 0 means the process was never
// spawned (batch agents before their first message); NoProcess marks a
// process that failed to re-spawn during restore.
const NoProcess = -1

// Session represents a single agent session backed by two OS processes:
// an AI agent and a terminal shell. The two handles are owned independently;
// neither is derived from the other.
type Session struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	ToolType       string       `json:"tool_type"`
	State          SessionState `json:"state"`
	Cwd            string       `json:"cwd"`
	InputMode      InputMode    `json:"input_mode"`
	AIPID          int          `json:"ai_pid"`
	TerminalPID    int          `json:"terminal_pid"`
	ResumeToken    string       `json:"-"`
	Error          string       `json:"error,omitempty"`
	CommandHistory []string     `json:"command_history,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// LogEntry is one entry in a session's AI or shell log.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"` // "user", "assistant", or "system"
	Content   string    `json:"content"`
}

// Log stream names, matching the process id suffix convention.
const (
	StreamAI    = "ai"
	StreamShell = "shell"
)

// ModeratorConfig carries per-chat overrides for the moderator agent.
type ModeratorConfig struct {
	CustomPath    string            `json:"custom_path,omitempty"`
	CustomArgs    []string          `json:"custom_args,omitempty"`
	CustomEnvVars map[string]string `json:"custom_env_vars,omitempty"`
}

// GroupChat represents a moderated multi-agent conversation.
type GroupChat struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	ModeratorAgentID string          `json:"moderator_agent_id"`
	ModeratorConfig  ModeratorConfig `json:"moderator_config"`
	LogPath          string          `json:"log_path"`
	Participants     []*Participant  `json:"participants"`
	ReadOnly         bool            `json:"read_only"`
	Active           bool            `json:"active"`
	State            ChatState       `json:"state"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Participant returns the participant with the given name, or nil.
func (c *GroupChat) Participant(name string) *Participant {
	for _, p := range c.Participants {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ParticipantNames returns the participant names in roster order.
func (c *GroupChat) ParticipantNames() []string {
	names := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		names[i] = p.Name
	}
	return names
}

// Participant is an agent bound into a group chat under a display name.
type Participant struct {
	Name         string    `json:"name"`
	AgentID      string    `json:"agent_id"`
	Color        string    `json:"color"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
	LastSummary  string    `json:"last_summary,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

// ChatMessage is one line of a chat transcript.
type ChatMessage struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"` // "user", "moderator", "system", or a participant name
	Content   string    `json:"content"`
	ReadOnly  bool      `json:"read_only,omitempty"`
	Images    []string  `json:"images,omitempty"`
}

// Message sender names with fixed meaning. Any other From value is a
// participant name.
const (
	FromUser      = "user"
	FromModerator = "moderator"
	FromSystem    = "system"
)

// HistoryEntry is a structured record of one participant response.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Participant string    `json:"participant"`
	Color       string    `json:"color,omitempty"`
	Summary     string    `json:"summary"`
	Response    string    `json:"response"`
}

// Event represents a single observer event scoped to a session or chat topic.
type Event struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Type      string    `json:"type"` // "message", "state", "participants", "participant-state", "history", "log", "error", "done"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// FirstSentence returns the first sentence of s, cut at the first '.', '!',
// '?' or newline. If no terminator appears within maxLen runes the capped
// text is returned instead.
func FirstSentence(s string, maxLen int) string {
	count := 0
	for i, r := range s {
		if count >= maxLen {
			break
		}
		switch r {
		case '.', '!', '?':
			return s[:i+1]
		case '\n':
			return s[:i]
		}
		count++
	}
	return Truncate(s, maxLen)
}
