// Package sqlite persists chat sessions in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/session"
	"github.com/go-openapi/strfmt"
)

var _ session.Persister = (*Store)(nil)

// Store implements session.Persister backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	role TEXT NOT NULL CHECK(role IN ('user','assistant')),
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	finish_reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, position)
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads every session with its messages.
func (s *Store) Load(ctx context.Context) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, created_at, updated_at
FROM sessions
ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	index := make(map[string]int)
	for rows.Next() {
		var (
			sess             session.Session
			created, updated int64
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated); err != nil {
			return nil, err
		}
		sess.CreatedAt = fromNanos(created)
		sess.UpdatedAt = fromNanos(updated)
		index[sess.ID] = len(sessions)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx, `
SELECT session_id, role, content, created_at, finish_reason
FROM messages
ORDER BY session_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			sessionID, role, content, finish string
			created                          int64
		)
		if err := msgRows.Scan(&sessionID, &role, &content, &created, &finish); err != nil {
			return nil, err
		}
		i, ok := index[sessionID]
		if !ok {
			continue
		}
		sessions[i].Messages = append(sessions[i].Messages, session.Message{
			Role:         session.Role(role),
			Content:      content,
			Timestamp:    fromNanos(created),
			FinishReason: provider.FinishReason(finish),
		})
	}
	return sessions, msgRows.Err()
}

// Save replaces the stored copy of a session.
func (s *Store) Save(ctx context.Context, sess session.Session) (err error) {
	if sess.ID == "" {
		return errors.New("session id required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
INSERT INTO sessions(id, title, created_at, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		sess.ID, sess.Title, toNanos(sess.CreatedAt), toNanos(sess.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO messages(session_id, position, role, content, created_at, finish_reason)
VALUES(?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, msg := range sess.Messages {
		if _, err = stmt.ExecContext(ctx, sess.ID, i, string(msg.Role), msg.Content, toNanos(msg.Timestamp), string(msg.FinishReason)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Delete removes a session and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func toNanos(dt strfmt.DateTime) int64 {
	return time.Time(dt).UnixNano()
}

func fromNanos(n int64) strfmt.DateTime {
	return strfmt.DateTime(time.Unix(0, n).UTC())
}
