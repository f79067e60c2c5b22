// Package memory provides the durable archive. The world state store is
// bounded and in-memory only; everything it evicts survives here.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/domain"
)

// Archive persists observed messages and action outcomes to SQLite.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewArchive(dbPath string, logger *slog.Logger) (*Archive, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	a := &Archive{db: db, logger: logger}

	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id  TEXT NOT NULL,
		platform    TEXT NOT NULL,
		channel_id  TEXT NOT NULL,
		sender      TEXT,
		content     TEXT,
		reply_to    TEXT,
		observed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(platform, channel_id, observed_at);

	CREATE TABLE IF NOT EXISTS actions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		action_id   TEXT NOT NULL,
		type        TEXT NOT NULL,
		params      TEXT,
		status      TEXT NOT NULL,
		result      TEXT,
		executed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_time ON actions(executed_at);
	`

	_, err := a.db.Exec(schema)
	return err
}

// ArchiveMessage appends an observed message.
func (a *Archive) ArchiveMessage(msg domain.Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := a.db.Exec(
		`INSERT INTO messages (message_id, platform, channel_id, sender, content, reply_to, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, string(msg.Platform), msg.ChannelID, msg.Sender, msg.Content, msg.ReplyTo, ts,
	)
	if err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	return nil
}

// ArchiveAction appends a final action outcome.
func (a *Archive) ArchiveAction(entry domain.ActionEntry) error {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		params = []byte("{}")
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = a.db.Exec(
		`INSERT INTO actions (action_id, type, params, status, result, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Type), string(params), string(entry.Status), entry.Result, ts,
	)
	if err != nil {
		return fmt.Errorf("archive action: %w", err)
	}
	return nil
}

// CountMessages returns the archived message total.
func (a *Archive) CountMessages() (int, error) {
	var n int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// exportRecord is the JSONL line shape produced by ExportJSONL.
type exportRecord struct {
	Kind      string          `json:"kind"` // "message" | "action"
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ExportJSONL streams the full archive as JSON lines, messages first then
// actions, each in chronological order.
func (a *Archive) ExportJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)

	rows, err := a.db.Query(
		`SELECT message_id, platform, channel_id, sender, content, reply_to, observed_at
		 FROM messages ORDER BY observed_at, id`)
	if err != nil {
		return fmt.Errorf("export messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msg domain.Message
		var platform string
		if err := rows.Scan(&msg.ID, &platform, &msg.ChannelID, &msg.Sender, &msg.Content, &msg.ReplyTo, &msg.Timestamp); err != nil {
			return fmt.Errorf("export messages: %w", err)
		}
		msg.Platform = domain.Platform(platform)
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := enc.Encode(exportRecord{Kind: "message", Timestamp: msg.Timestamp, Data: data}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("export messages: %w", err)
	}

	actRows, err := a.db.Query(
		`SELECT action_id, type, params, status, result, executed_at
		 FROM actions ORDER BY executed_at, id`)
	if err != nil {
		return fmt.Errorf("export actions: %w", err)
	}
	defer actRows.Close()
	for actRows.Next() {
		var entry domain.ActionEntry
		var typ, status, params string
		if err := actRows.Scan(&entry.ID, &typ, &params, &status, &entry.Result, &entry.Timestamp); err != nil {
			return fmt.Errorf("export actions: %w", err)
		}
		entry.Type = domain.ActionType(typ)
		entry.Status = domain.ActionStatus(status)
		if params != "" {
			_ = json.Unmarshal([]byte(params), &entry.Params)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := enc.Encode(exportRecord{Kind: "action", Timestamp: entry.Timestamp, Data: data}); err != nil {
			return err
		}
	}
	if err := actRows.Err(); err != nil {
		return fmt.Errorf("export actions: %w", err)
	}

	return nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}
