// Package storage provides the SQLite-backed message archive. The archive is
// a history store fed by the routing engine alongside the plain-text audit
// logs; it survives what the audit files do not (queries, retention).
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Kind labels an archived message row.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// ArchivedMessage is one row of the archive.
type ArchivedMessage struct {
	ID        int64
	Kind      string // KindDirect or KindGroup
	Sender    string
	Recipient string // username for direct messages, group name for group messages
	Body      string
	SentAt    int64 // unix milliseconds
}

// Archive wraps the SQLite connection holding message history.
type Archive struct {
	conn *sql.DB
}

// Open opens (or creates) the archive database at path and initializes the
// schema.
func Open(path string) (*Archive, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// One writer at a time keeps SQLite happy under concurrent sessions.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		kind      TEXT NOT NULL CHECK (kind IN ('direct', 'group')),
		sender    TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body      TEXT NOT NULL,
		sent_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(kind, recipient);
	`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	return &Archive{conn: conn}, nil
}

// Close closes the underlying connection.
func (a *Archive) Close() error {
	return a.conn.Close()
}

// RecordDirect archives a delivered direct message.
func (a *Archive) RecordDirect(sender, recipient, body string, sentAt time.Time) error {
	return a.record(KindDirect, sender, recipient, body, sentAt)
}

// RecordGroup archives a group message under its group name.
func (a *Archive) RecordGroup(sender, group, body string, sentAt time.Time) error {
	return a.record(KindGroup, sender, group, body, sentAt)
}

func (a *Archive) record(kind, sender, recipient, body string, sentAt time.Time) error {
	_, err := a.conn.Exec(
		`INSERT INTO messages (kind, sender, recipient, body, sent_at) VALUES (?, ?, ?, ?, ?)`,
		kind, sender, recipient, body, sentAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

// History returns up to limit archived messages addressed to recipient (a
// username for direct history, a group name for group history), newest first.
func (a *Archive) History(kind, recipient string, limit int) ([]*ArchivedMessage, error) {
	rows, err := a.conn.Query(
		`SELECT id, kind, sender, recipient, body, sent_at
		 FROM messages WHERE kind = ? AND recipient = ?
		 ORDER BY sent_at DESC, id DESC LIMIT ?`,
		kind, recipient, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var msgs []*ArchivedMessage
	for rows.Next() {
		m := &ArchivedMessage{}
		if err := rows.Scan(&m.ID, &m.Kind, &m.Sender, &m.Recipient, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan archived message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the total number of archived rows.
func (a *Archive) CountMessages() (int64, error) {
	var n int64
	if err := a.conn.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived messages: %w", err)
	}
	return n, nil
}

// CleanupExpired deletes rows older than maxAge and returns how many were
// removed.
func (a *Archive) CleanupExpired(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := a.conn.Exec(`DELETE FROM messages WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up archive: %w", err)
	}
	return res.RowsAffected()
}
