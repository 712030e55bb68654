// Package sqlite implements store.SessionStore and store.GroupChatStore
// using SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/jxucoder/agentdeck/chatlog"
	"github.com/jxucoder/agentdeck/model"
	"github.com/jxucoder/agentdeck/store"
)

// Store manages session, chat, and event persistence in SQLite. Chat
// transcripts live as JSONL files next to the database (see chatlog).
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			tool_type       TEXT NOT NULL,
			state           TEXT NOT NULL DEFAULT 'idle',
			cwd             TEXT NOT NULL DEFAULT '',
			input_mode      TEXT NOT NULL DEFAULT 'ai',
			ai_pid          INTEGER NOT NULL DEFAULT 0,
			terminal_pid    INTEGER NOT NULL DEFAULT 0,
			resume_token    TEXT NOT NULL DEFAULT '',
			error           TEXT NOT NULL DEFAULT '',
			command_history TEXT NOT NULL DEFAULT '[]',
			created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS session_logs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			stream     TEXT NOT NULL,
			source     TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_session_logs_session
			ON session_logs(session_id, stream);

		CREATE TABLE IF NOT EXISTS group_chats (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			moderator_agent_id TEXT NOT NULL,
			moderator_path     TEXT NOT NULL DEFAULT '',
			moderator_args     TEXT NOT NULL DEFAULT '[]',
			moderator_env      TEXT NOT NULL DEFAULT '{}',
			log_path           TEXT NOT NULL DEFAULT '',
			read_only          INTEGER NOT NULL DEFAULT 0,
			active             INTEGER NOT NULL DEFAULT 1,
			state              TEXT NOT NULL DEFAULT 'idle',
			created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS participants (
			chat_id       TEXT NOT NULL,
			name          TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			color         TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			last_activity DATETIME,
			last_summary  TEXT NOT NULL DEFAULT '',
			joined_at     DATETIME NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (chat_id, name),
			FOREIGN KEY (chat_id) REFERENCES group_chats(id)
		);

		CREATE TABLE IF NOT EXISTS chat_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id     TEXT NOT NULL,
			participant TEXT NOT NULL,
			color       TEXT NOT NULL DEFAULT '',
			summary     TEXT NOT NULL DEFAULT '',
			response    TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (chat_id) REFERENCES group_chats(id)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_history_chat
			ON chat_history(chat_id);

		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			topic      TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_topic
			ON events(topic);
	`)
	if err != nil {
		return err
	}

	// Add resume_token to databases created before batch agents (idempotent).
	_, _ = db.Exec(`ALTER TABLE sessions ADD COLUMN resume_token TEXT NOT NULL DEFAULT ''`)

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Sessions ---

// CreateSession inserts a new session.
func (s *Store) CreateSession(sess *model.Session) error {
	if sess.State == "" {
		sess.State = model.StateIdle
	}
	if sess.InputMode == "" {
		sess.InputMode = model.InputAI
	}
	history, err := json.Marshal(sess.CommandHistory)
	if err != nil {
		return fmt.Errorf("encoding command history: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, name, tool_type, state, cwd, input_mode,
		                       ai_pid, terminal_pid, resume_token, error,
		                       command_history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.ToolType, sess.State, sess.Cwd, sess.InputMode,
		sess.AIPID, sess.TerminalPID, sess.ResumeToken, sess.Error,
		string(history), sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, name, tool_type, state, cwd, input_mode, ai_pid,
		        terminal_pid, resume_token, error, command_history,
		        created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

// ListSessions returns all sessions ordered by creation time (oldest first).
func (s *Store) ListSessions() ([]*model.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, name, tool_type, state, cwd, input_mode, ai_pid,
		        terminal_pid, resume_token, error, command_history,
		        created_at, updated_at
		 FROM sessions ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSession updates mutable fields of a session.
func (s *Store) UpdateSession(sess *model.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	history, err := json.Marshal(sess.CommandHistory)
	if err != nil {
		return fmt.Errorf("encoding command history: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE sessions SET
			name = ?, tool_type = ?, state = ?, cwd = ?, input_mode = ?,
			ai_pid = ?, terminal_pid = ?, resume_token = ?, error = ?,
			command_history = ?, updated_at = ?
		 WHERE id = ?`,
		sess.Name, sess.ToolType, sess.State, sess.Cwd, sess.InputMode,
		sess.AIPID, sess.TerminalPID, sess.ResumeToken, sess.Error,
		string(history), sess.UpdatedAt, sess.ID,
	)
	return err
}

// AddSessionLog inserts a log entry and sets entry.ID.
func (s *Store) AddSessionLog(sessionID, stream string, entry *model.LogEntry) error {
	result, err := s.db.Exec(
		`INSERT INTO session_logs (session_id, stream, source, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, stream, entry.From, entry.Content, entry.Timestamp,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// UpdateSessionLog rewrites the content of an existing log entry.
func (s *Store) UpdateSessionLog(id int64, content string) error {
	_, err := s.db.Exec(`UPDATE session_logs SET content = ? WHERE id = ?`, content, id)
	return err
}

// GetSessionLogs returns a session's log entries for one stream in append order.
func (s *Store) GetSessionLogs(sessionID, stream string) ([]*model.LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, source, content, created_at
		 FROM session_logs
		 WHERE session_id = ? AND stream = ?
		 ORDER BY id ASC`,
		sessionID, stream,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		e := &model.LogEntry{}
		if err := rows.Scan(&e.ID, &e.From, &e.Content, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Group chats ---

// CreateGroupChat inserts a new group chat.
func (s *Store) CreateGroupChat(chat *model.GroupChat) error {
	if chat.State == "" {
		chat.State = model.ChatIdle
	}
	args, err := json.Marshal(chat.ModeratorConfig.CustomArgs)
	if err != nil {
		return fmt.Errorf("encoding moderator args: %w", err)
	}
	env, err := json.Marshal(chat.ModeratorConfig.CustomEnvVars)
	if err != nil {
		return fmt.Errorf("encoding moderator env: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO group_chats (id, name, moderator_agent_id, moderator_path,
		                          moderator_args, moderator_env, log_path,
		                          read_only, active, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.Name, chat.ModeratorAgentID, chat.ModeratorConfig.CustomPath,
		string(args), string(env), chat.LogPath,
		chat.ReadOnly, chat.Active, chat.State, chat.CreatedAt, chat.UpdatedAt,
	)
	return err
}

// GetGroupChat retrieves a chat and its participant roster by ID.
func (s *Store) GetGroupChat(id string) (*model.GroupChat, error) {
	row := s.db.QueryRow(
		`SELECT id, name, moderator_agent_id, moderator_path, moderator_args,
		        moderator_env, log_path, read_only, active, state,
		        created_at, updated_at
		 FROM group_chats WHERE id = ?`, id,
	)
	chat, err := scanChat(row)
	if err != nil {
		return nil, err
	}

	participants, err := s.getParticipants(id)
	if err != nil {
		return nil, err
	}
	chat.Participants = participants
	return chat, nil
}

// ListGroupChats returns all chats (without rosters) ordered by creation time.
func (s *Store) ListGroupChats() ([]*model.GroupChat, error) {
	rows, err := s.db.Query(
		`SELECT id, name, moderator_agent_id, moderator_path, moderator_args,
		        moderator_env, log_path, read_only, active, state,
		        created_at, updated_at
		 FROM group_chats ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*model.GroupChat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// UpdateGroupChat updates mutable fields of a chat (not its roster).
func (s *Store) UpdateGroupChat(chat *model.GroupChat) error {
	chat.UpdatedAt = time.Now().UTC()
	args, err := json.Marshal(chat.ModeratorConfig.CustomArgs)
	if err != nil {
		return fmt.Errorf("encoding moderator args: %w", err)
	}
	env, err := json.Marshal(chat.ModeratorConfig.CustomEnvVars)
	if err != nil {
		return fmt.Errorf("encoding moderator env: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE group_chats SET
			name = ?, moderator_agent_id = ?, moderator_path = ?,
			moderator_args = ?, moderator_env = ?, log_path = ?,
			read_only = ?, active = ?, state = ?, updated_at = ?
		 WHERE id = ?`,
		chat.Name, chat.ModeratorAgentID, chat.ModeratorConfig.CustomPath,
		string(args), string(env), chat.LogPath,
		chat.ReadOnly, chat.Active, chat.State, chat.UpdatedAt, chat.ID,
	)
	return err
}

// AddParticipant adds a participant to a chat's roster.
func (s *Store) AddParticipant(chatID string, p *model.Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO participants (chat_id, name, agent_id, color,
		                           message_count, last_summary, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chatID, p.Name, p.AgentID, p.Color, p.MessageCount, p.LastSummary, p.JoinedAt,
	)
	return err
}

// UpdateParticipant applies a patch to one participant. Nil patch fields are
// left untouched.
func (s *Store) UpdateParticipant(chatID, name string, patch store.ParticipantPatch) error {
	var sets []string
	var args []any
	if patch.MessageCount != nil {
		sets = append(sets, "message_count = ?")
		args = append(args, *patch.MessageCount)
	}
	if patch.LastActivity != nil {
		sets = append(sets, "last_activity = ?")
		args = append(args, *patch.LastActivity)
	}
	if patch.LastSummary != nil {
		sets = append(sets, "last_summary = ?")
		args = append(args, *patch.LastSummary)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, chatID, name)
	result, err := s.db.Exec(
		`UPDATE participants SET `+strings.Join(sets, ", ")+` WHERE chat_id = ? AND name = ?`,
		args...,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("participant %q not found in chat %s", name, chatID)
	}
	return nil
}

func (s *Store) getParticipants(chatID string) ([]*model.Participant, error) {
	rows, err := s.db.Query(
		`SELECT name, agent_id, color, message_count, last_activity,
		        last_summary, joined_at
		 FROM participants
		 WHERE chat_id = ?
		 ORDER BY joined_at ASC, rowid ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []*model.Participant
	for rows.Next() {
		p := &model.Participant{}
		var lastActivity sql.NullTime
		if err := rows.Scan(&p.Name, &p.AgentID, &p.Color, &p.MessageCount,
			&lastActivity, &p.LastSummary, &p.JoinedAt); err != nil {
			return nil, err
		}
		if lastActivity.Valid {
			p.LastActivity = lastActivity.Time
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// AddHistoryEntry inserts a structured history entry and sets entry.ID.
func (s *Store) AddHistoryEntry(chatID string, entry *model.HistoryEntry) error {
	result, err := s.db.Exec(
		`INSERT INTO chat_history (chat_id, participant, color, summary, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		chatID, entry.Participant, entry.Color, entry.Summary, entry.Response, entry.Timestamp,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// GetHistory returns the most recent limit history entries in append order.
// limit <= 0 returns everything.
func (s *Store) GetHistory(chatID string, limit int) ([]*model.HistoryEntry, error) {
	query := `SELECT id, participant, color, summary, response, created_at
	          FROM chat_history WHERE chat_id = ? ORDER BY id ASC`
	args := []any{chatID}
	if limit > 0 {
		query = `SELECT id, participant, color, summary, response, created_at
		         FROM (SELECT * FROM chat_history WHERE chat_id = ? ORDER BY id DESC LIMIT ?)
		         ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.HistoryEntry
	for rows.Next() {
		e := &model.HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.Participant, &e.Color, &e.Summary,
			&e.Response, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Transcript log ---

// AppendToLog appends one message to the transcript at path.
func (s *Store) AppendToLog(path string, msg *model.ChatMessage) error {
	return chatlog.Append(path, msg)
}

// ReadLog returns the transcript at path in append order.
func (s *Store) ReadLog(path string) ([]*model.ChatMessage, error) {
	return chatlog.Read(path)
}

// --- Events ---

// AddEvent inserts a new event and sets event.ID.
func (s *Store) AddEvent(event *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO events (topic, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.Topic, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a topic, optionally after a given event ID.
func (s *Store) GetEvents(topic string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, topic, type, data, created_at
		 FROM events
		 WHERE topic = ? AND id > ?
		 ORDER BY id ASC`,
		topic, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.Topic, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.Session, error) {
	sess := &model.Session{}
	var history string
	err := row.Scan(
		&sess.ID, &sess.Name, &sess.ToolType, &sess.State, &sess.Cwd,
		&sess.InputMode, &sess.AIPID, &sess.TerminalPID, &sess.ResumeToken,
		&sess.Error, &history, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &sess.CommandHistory); err != nil {
		return nil, fmt.Errorf("decoding command history: %w", err)
	}
	return sess, nil
}

func scanChat(row scannable) (*model.GroupChat, error) {
	chat := &model.GroupChat{}
	var args, env string
	err := row.Scan(
		&chat.ID, &chat.Name, &chat.ModeratorAgentID, &chat.ModeratorConfig.CustomPath,
		&args, &env, &chat.LogPath, &chat.ReadOnly, &chat.Active, &chat.State,
		&chat.CreatedAt, &chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(args), &chat.ModeratorConfig.CustomArgs); err != nil {
		return nil, fmt.Errorf("decoding moderator args: %w", err)
	}
	if err := json.Unmarshal([]byte(env), &chat.ModeratorConfig.CustomEnvVars); err != nil {
		return nil, fmt.Errorf("decoding moderator env: %w", err)
	}
	return chat, nil
}
