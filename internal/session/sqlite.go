package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Schema for the sessions database.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT,
    summary TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    cwd TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    archived BOOLEAN DEFAULT FALSE,
    user_turns INTEGER DEFAULT 0,
    llm_turns INTEGER DEFAULT 0,
    tool_calls INTEGER DEFAULT 0,
    input_tokens INTEGER DEFAULT 0,
    cached_input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    status TEXT DEFAULT 'active',
    tags TEXT
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL,
    text_content TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_sequence ON messages(session_id, sequence);

-- Metadata table for current session tracking
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);

-- Full-text search on extracted text content
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    text_content,
    content='messages',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, text_content) VALUES (new.id, new.text_content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, text_content) VALUES ('delete', old.id, old.text_content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, text_content) VALUES ('delete', old.id, old.text_content);
    INSERT INTO messages_fts(rowid, text_content) VALUES (new.id, new.text_content);
END;
`

// NewSQLiteStore creates a new SQLite-based session store.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		dbPath, err = DBPath()
		if err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}

	if err := store.cleanup(); err != nil {
		// Best effort, an uncleaned database is still usable.
		fmt.Fprintf(os.Stderr, "warning: session cleanup failed: %v\n", err)
	}

	return store, nil
}

// cleanup removes old sessions based on configuration.
func (s *SQLiteStore) cleanup() error {
	ctx := context.Background()

	if s.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays)
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM sessions WHERE updated_at < ? AND archived = FALSE",
			cutoff)
		if err != nil {
			return fmt.Errorf("delete old sessions: %w", err)
		}
	}

	if s.cfg.MaxCount > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM sessions WHERE id IN (
				SELECT id FROM sessions
				WHERE archived = FALSE
				ORDER BY updated_at DESC
				LIMIT -1 OFFSET ?
			)`, s.cfg.MaxCount)
		if err != nil {
			return fmt.Errorf("enforce max count: %w", err)
		}
	}

	return nil
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, summary, provider, model, cwd, created_at, updated_at, archived,
		                      user_turns, llm_turns, tool_calls, input_tokens, cached_input_tokens, output_tokens, status, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Summary, sess.Provider, sess.Model, sess.CWD,
		sess.CreatedAt, sess.UpdatedAt, sess.Archived,
		sess.UserTurns, sess.LLMTurns, sess.ToolCalls,
		sess.InputTokens, sess.CachedInputTokens, sess.OutputTokens,
		string(sess.Status), nullString(sess.Tags))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. Returns (nil, nil) if not found.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, summary, provider, model, cwd, created_at, updated_at, archived,
		       user_turns, llm_turns, tool_calls, input_tokens, cached_input_tokens, output_tokens, status, tags
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var status, tags sql.NullString
	err := row.Scan(&sess.ID, &sess.Name, &sess.Summary, &sess.Provider, &sess.Model,
		&sess.CWD, &sess.CreatedAt, &sess.UpdatedAt, &sess.Archived,
		&sess.UserTurns, &sess.LLMTurns, &sess.ToolCalls,
		&sess.InputTokens, &sess.CachedInputTokens, &sess.OutputTokens,
		&status, &tags)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if status.Valid {
		sess.Status = Status(status.String)
	}
	if tags.Valid {
		sess.Tags = tags.String
	}
	return &sess, nil
}

// Update modifies an existing session.
func (s *SQLiteStore) Update(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET name = ?, summary = ?, provider = ?, model = ?, cwd = ?,
		       updated_at = ?, archived = ?,
		       user_turns = ?, llm_turns = ?, tool_calls = ?,
		       input_tokens = ?, cached_input_tokens = ?, output_tokens = ?,
		       status = ?, tags = ?
		WHERE id = ?`,
		sess.Name, sess.Summary, sess.Provider, sess.Model, sess.CWD,
		sess.UpdatedAt, sess.Archived,
		sess.UserTurns, sess.LLMTurns, sess.ToolCalls,
		sess.InputTokens, sess.CachedInputTokens, sess.OutputTokens,
		string(sess.Status), nullString(sess.Tags), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sess.ID)
	}
	return nil
}

// UpdateMetrics adds the given deltas to the session's counters.
func (s *SQLiteStore) UpdateMetrics(ctx context.Context, id string, llmTurns, toolCalls, inputTokens, outputTokens, cachedInputTokens int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
		       llm_turns = llm_turns + ?,
		       tool_calls = tool_calls + ?,
		       input_tokens = input_tokens + ?,
		       output_tokens = output_tokens + ?,
		       cached_input_tokens = cached_input_tokens + ?,
		       updated_at = ?
		WHERE id = ?`,
		llmTurns, toolCalls, inputTokens, outputTokens, cachedInputTokens, time.Now(), id)
	return err
}

// UpdateStatus updates just the session status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

// IncrementUserTurns increments the user turn count.
func (s *SQLiteStore) IncrementUserTurns(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET user_turns = user_turns + 1, updated_at = ?
		WHERE id = ?`,
		time.Now(), id)
	return err
}

// Delete removes a session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	// Foreign key cascade handles messages
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// List returns sessions matching the options, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]SessionSummary, error) {
	query := `
		SELECT s.id, s.name, s.summary, s.provider, s.model, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE session_id = s.id) as message_count,
		       s.user_turns, s.llm_turns, s.tool_calls,
		       s.input_tokens, s.cached_input_tokens, s.output_tokens, s.status, s.tags
		FROM sessions s
		WHERE 1=1`
	args := []any{}

	if opts.Provider != "" {
		query += " AND s.provider = ?"
		args = append(args, opts.Provider)
	}
	if opts.Model != "" {
		query += " AND s.model = ?"
		args = append(args, opts.Model)
	}
	if opts.Status != "" {
		query += " AND s.status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Tag != "" {
		// Match against comma-separated tags
		query += " AND (',' || s.tags || ',' LIKE '%,' || ? || ',%')"
		args = append(args, opts.Tag)
	}
	if !opts.Archived {
		query += " AND s.archived = FALSE"
	}

	query += " ORDER BY s.updated_at DESC"

	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var results []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var status, tags sql.NullString
		err := rows.Scan(&sum.ID, &sum.Name, &sum.Summary, &sum.Provider, &sum.Model,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount,
			&sum.UserTurns, &sum.LLMTurns, &sum.ToolCalls,
			&sum.InputTokens, &sum.CachedInputTokens, &sum.OutputTokens,
			&status, &tags)
		if err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		if status.Valid {
			sum.Status = Status(status.String)
		}
		if tags.Valid {
			sum.Tags = tags.String
		}
		results = append(results, sum)
	}
	return results, rows.Err()
}

// Search finds sessions containing the query text using FTS5.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit == 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, m.id, s.name, s.summary, snippet(messages_fts, 0, '**', '**', '...', 32),
		       s.provider, s.model, m.created_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		JOIN sessions s ON s.id = m.session_id
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		err := rows.Scan(&r.SessionID, &r.MessageID, &r.SessionName, &r.Summary,
			&r.Snippet, &r.Provider, &r.Model, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AddMessage adds a message to a session. If msg.Sequence < 0, the sequence
// number is auto-allocated atomically.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	contentJSON, err := msg.ContentJSON()
	if err != nil {
		return fmt.Errorf("serialize content: %w", err)
	}

	// Transaction makes sequence allocation atomic; the unique index on
	// (session_id, sequence) backstops concurrent writers.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if msg.Sequence < 0 {
		var maxSeq sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(sequence) FROM messages WHERE session_id = ?`,
			sessionID).Scan(&maxSeq)
		if err != nil {
			return fmt.Errorf("get max sequence: %w", err)
		}
		if maxSeq.Valid {
			msg.Sequence = int(maxSeq.Int64) + 1
		} else {
			msg.Sequence = 0
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, text_content, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), contentJSON, msg.TextContent, msg.CreatedAt, msg.Sequence)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, _ := result.LastInsertId()
	msg.ID = id

	_, err = tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?",
		time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetMessages retrieves messages for a session in sequence order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	query := `
		SELECT id, session_id, role, content, text_content, created_at, sequence
		FROM messages
		WHERE session_id = ?
		ORDER BY sequence ASC`

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var contentJSON string
		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &contentJSON,
			&msg.TextContent, &msg.CreatedAt, &msg.Sequence)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := msg.SetContentFromJSON(contentJSON); err != nil {
			return nil, fmt.Errorf("deserialize content: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SetCurrent marks a session as the current one.
func (s *SQLiteStore) SetCurrent(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('current_session', ?)`,
		sessionID)
	return err
}

// GetCurrent retrieves the current session, or (nil, nil) when none is set.
func (s *SQLiteStore) GetCurrent(ctx context.Context) (*Session, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE key = 'current_session'").Scan(&sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, sessionID)
}

// ClearCurrent removes the current session marker.
func (s *SQLiteStore) ClearCurrent(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM metadata WHERE key = 'current_session'")
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
