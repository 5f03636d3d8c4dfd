// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/template/agent persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/overseer-gateway/internal/ledger"
	"github.com/2389/overseer-gateway/internal/template"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			customer_name TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			control_ai INTEGER NOT NULL DEFAULT 1,
			supervisor_id TEXT,
			supervisor_name TEXT,
			alert_level TEXT NOT NULL DEFAULT 'normal',
			sentiment REAL,
			start_time DATETIME NOT NULL,
			end_time DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_status
			ON conversations(status);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);

		CREATE TABLE IF NOT EXISTS conversation_tags (
			conversation_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (conversation_id, tag),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'online',
			parameters TEXT NOT NULL DEFAULT '{}',
			capabilities TEXT NOT NULL DEFAULT '[]',
			escalation TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveConversation upserts the conversation row and rewrites its message and
// tag sets in one transaction. The message log is append-only in practice,
// so the rewrite is a full mirror of the ledger snapshot.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *ledger.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var sentiment sql.NullFloat64
	if conv.Sentiment != nil {
		sentiment = sql.NullFloat64{Float64: *conv.Sentiment, Valid: true}
	}
	var endTime sql.NullTime
	if conv.EndTime != nil {
		endTime = sql.NullTime{Time: *conv.EndTime, Valid: true}
	}
	var supID, supName sql.NullString
	if !conv.Control.AI {
		supID = sql.NullString{String: conv.Control.SupervisorID, Valid: true}
		supName = sql.NullString{String: conv.Control.SupervisorName, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, customer_name, agent_id, status, control_ai,
			supervisor_id, supervisor_name, alert_level, sentiment, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_name = excluded.customer_name,
			agent_id = excluded.agent_id,
			status = excluded.status,
			control_ai = excluded.control_ai,
			supervisor_id = excluded.supervisor_id,
			supervisor_name = excluded.supervisor_name,
			alert_level = excluded.alert_level,
			sentiment = excluded.sentiment,
			start_time = excluded.start_time,
			end_time = excluded.end_time`,
		conv.ID, conv.CustomerName, conv.AgentID, string(conv.Status), boolToInt(conv.Control.AI),
		supID, supName, conv.AlertLevel, sentiment, conv.StartTime, endTime)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	for i, m := range conv.Messages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, sender, text, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, conv.ID, i, m.Sender, m.Text, m.Timestamp); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_tags WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("clearing tags: %w", err)
	}
	for _, tag := range conv.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_tags (conversation_id, tag) VALUES (?, ?)`,
			conv.ID, tag); err != nil {
			return fmt.Errorf("inserting tag: %w", err)
		}
	}

	return tx.Commit()
}

// LoadConversation returns one conversation with its full transcript.
func (s *SQLiteStore) LoadConversation(ctx context.Context, id string) (*ledger.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_name, agent_id, status, control_ai, supervisor_id,
			supervisor_name, alert_level, sentiment, start_time, end_time
		FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	if err := s.attachMessagesAndTags(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// LoadAllConversations returns every stored conversation, transcripts included.
func (s *SQLiteStore) LoadAllConversations(ctx context.Context) ([]*ledger.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_name, agent_id, status, control_ai, supervisor_id,
			supervisor_name, alert_level, sentiment, start_time, end_time
		FROM conversations ORDER BY start_time`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*ledger.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, conv := range convs {
		if err := s.attachMessagesAndTags(ctx, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// attachMessagesAndTags loads the transcript and tag set for conv.
func (s *SQLiteStore) attachMessagesAndTags(ctx context.Context, conv *ledger.Conversation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, text, timestamp FROM messages
		WHERE conversation_id = ? ORDER BY seq`, conv.ID)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []ledger.Message{}
	for rows.Next() {
		var m ledger.Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.Timestamp); err != nil {
			return fmt.Errorf("scanning message: %w", err)
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tagRows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM conversation_tags WHERE conversation_id = ? ORDER BY tag`, conv.ID)
	if err != nil {
		return fmt.Errorf("loading tags: %w", err)
	}
	defer tagRows.Close()

	conv.Tags = []string{}
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return fmt.Errorf("scanning tag: %w", err)
		}
		conv.Tags = append(conv.Tags, tag)
	}
	return tagRows.Err()
}

// GetTemplate returns one template by id.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, content, category, usage_count, last_used, created_at, updated_at
		FROM templates WHERE id = ?`, id)

	tpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading template: %w", err)
	}
	return tpl, nil
}

// ListTemplates returns templates, optionally filtered by category, most
// used first.
func (s *SQLiteStore) ListTemplates(ctx context.Context, category string) ([]*Template, error) {
	query := `SELECT id, name, content, category, usage_count, last_used, created_at, updated_at
		FROM templates`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY usage_count DESC, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var tpls []*Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		tpls = append(tpls, tpl)
	}
	return tpls, rows.Err()
}

// SaveTemplate upserts a template record.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *Template) error {
	var lastUsed sql.NullTime
	if tpl.LastUsed != nil {
		lastUsed = sql.NullTime{Time: *tpl.LastUsed, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, content, category, usage_count, last_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content = excluded.content,
			category = excluded.category,
			usage_count = excluded.usage_count,
			last_used = excluded.last_used,
			updated_at = excluded.updated_at`,
		tpl.ID, tpl.Name, tpl.Content, tpl.Category, tpl.UsageCount, lastUsed,
		tpl.CreatedAt, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving template: %w", err)
	}
	return nil
}

// IncrementTemplateUsage bumps usage_count and stamps last_used.
func (s *SQLiteStore) IncrementTemplateUsage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates SET usage_count = usage_count + 1, last_used = ?
		WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("incrementing template usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgent returns one agent record.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, parameters, capabilities, escalation, created_at, updated_at
		FROM agents WHERE id = ?`, id)

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns every agent record.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, parameters, capabilities, escalation, created_at, updated_at
		FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// SaveAgent upserts an agent record. Structured fields are stored as JSON.
func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *Agent) error {
	params, err := json.Marshal(agent.Parameters)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	caps, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}
	esc, err := json.Marshal(agent.Escalation)
	if err != nil {
		return fmt.Errorf("encoding escalation thresholds: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, status, parameters, capabilities, escalation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			parameters = excluded.parameters,
			capabilities = excluded.capabilities,
			escalation = excluded.escalation,
			updated_at = excluded.updated_at`,
		agent.ID, agent.Name, agent.Status, string(params), string(caps), string(esc),
		agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving agent: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(sc scanner) (*ledger.Conversation, error) {
	var conv ledger.Conversation
	var status string
	var controlAI int
	var supID, supName sql.NullString
	var sentiment sql.NullFloat64
	var endTime sql.NullTime

	err := sc.Scan(&conv.ID, &conv.CustomerName, &conv.AgentID, &status, &controlAI,
		&supID, &supName, &conv.AlertLevel, &sentiment, &conv.StartTime, &endTime)
	if err != nil {
		return nil, err
	}

	conv.Status = ledger.Status(status)
	conv.Control.AI = controlAI != 0
	if !conv.Control.AI {
		conv.Control.SupervisorID = supID.String
		conv.Control.SupervisorName = supName.String
	}
	if sentiment.Valid {
		s := sentiment.Float64
		conv.Sentiment = &s
	}
	if endTime.Valid {
		t := endTime.Time
		conv.EndTime = &t
	}
	return &conv, nil
}

func scanTemplate(sc scanner) (*Template, error) {
	var tpl Template
	var lastUsed sql.NullTime

	err := sc.Scan(&tpl.ID, &tpl.Name, &tpl.Content, &tpl.Category,
		&tpl.UsageCount, &lastUsed, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		tpl.LastUsed = &t
	}
	tpl.Variables = template.ParseVariables(tpl.Content)
	return &tpl, nil
}

func scanAgent(sc scanner) (*Agent, error) {
	var agent Agent
	var params, caps, esc string

	err := sc.Scan(&agent.ID, &agent.Name, &agent.Status, &params, &caps, &esc,
		&agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &agent.Parameters); err != nil {
		return nil, fmt.Errorf("decoding parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(caps), &agent.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(esc), &agent.Escalation); err != nil {
		return nil, fmt.Errorf("decoding escalation thresholds: %w", err)
	}
	return &agent, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
