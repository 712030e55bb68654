// Package store defines the persistence interfaces consumed by the runtime
// and the group-chat router. Implementations live in subpackages.
package store

import (
	"time"

	"github.com/jxucoder/agentdeck/model"
)

// SessionStore persists sessions, their log entries, and observer events.
type SessionStore interface {
	CreateSession(sess *model.Session) error
	GetSession(id string) (*model.Session, error)
	ListSessions() ([]*model.Session, error)
	UpdateSession(sess *model.Session) error

	// AddSessionLog inserts a log entry for one of the session's two
	// streams and sets entry.ID. UpdateSessionLog rewrites the content of
	// an existing entry (used while coalescing output chunks).
	AddSessionLog(sessionID, stream string, entry *model.LogEntry) error
	UpdateSessionLog(id int64, content string) error
	GetSessionLogs(sessionID, stream string) ([]*model.LogEntry, error)

	AddEvent(event *model.Event) error
	GetEvents(topic string, afterID int64) ([]*model.Event, error)

	Close() error
}

// ParticipantPatch carries the participant fields mutated on a response.
// Nil fields are left untouched.
type ParticipantPatch struct {
	MessageCount *int
	LastActivity *time.Time
	LastSummary  *string
}

// GroupChatStore persists group chats, their rosters, structured history,
// and the append-only transcript log.
type GroupChatStore interface {
	CreateGroupChat(chat *model.GroupChat) error
	GetGroupChat(id string) (*model.GroupChat, error)
	ListGroupChats() ([]*model.GroupChat, error)
	UpdateGroupChat(chat *model.GroupChat) error

	AddParticipant(chatID string, p *model.Participant) error
	UpdateParticipant(chatID, name string, patch ParticipantPatch) error

	AddHistoryEntry(chatID string, entry *model.HistoryEntry) error
	GetHistory(chatID string, limit int) ([]*model.HistoryEntry, error)

	// AppendToLog appends one message to the transcript at path; ReadLog
	// returns the full transcript in append order.
	AppendToLog(path string, msg *model.ChatMessage) error
	ReadLog(path string) ([]*model.ChatMessage, error)

	AddEvent(event *model.Event) error
	GetEvents(topic string, afterID int64) ([]*model.Event, error)
}
