// Package history persists relayed chat lines to SQLite so an operator can
// review recent traffic. It is optional supporting infrastructure: the
// message core works identically with no store attached.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	sender     INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	text       TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_log_created_at ON chat_log(created_at);
`

// Entry is one recorded chat line.
type Entry struct {
	ID        int64     `json:"id"`
	Sender    int       `json:"sender"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed chat transcript.
type Store struct {
	db *sql.DB
}

// Open creates or opens the transcript database and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one chat line.
func (s *Store) Record(ctx context.Context, sender int, name, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_log (sender, name, text, created_at) VALUES (?, ?, ?, ?)`,
		sender, name, text, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert chat line: %w", err)
	}
	return nil
}

// Recent returns up to limit chat lines, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, name, text, created_at FROM chat_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Sender, &e.Name, &e.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan chat line: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
