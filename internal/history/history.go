// Package history provides SQLite-based persistence for archived chat messages.
// It plays the remote history source for the local transport.
// If opening the DB or executing queries fails, the store falls back to in-memory storage.
package history

import (
	"cmp"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/chatline/internal/logger"
)

// ErrNotFound is returned when a message id is unknown to the archive.
var ErrNotFound = errors.New("message not found")

// Store is a message archive. The zero value is not usable; call Open.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	messages []Message // in-memory fallback
	log      *slog.Logger
}

// Open opens (or creates) the SQLite database at path and creates the
// messages table if it doesn't exist. Use ":memory:" for a throwaway archive.
// Failures are logged and the store keeps working from memory.
func Open(path string) *Store {
	s := &Store{log: logger.For("history")}
	if path == "" {
		s.log.Info("no history path configured; using in-memory history")
		return s
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.log.Warn("sqlite open failed; using in-memory history", "error", err)
		return s
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY,
        sender TEXT,
        content TEXT,
        created_at INTEGER NOT NULL,
        revoked INTEGER NOT NULL DEFAULT 0,
        deleted INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS messages_created_at ON messages (created_at);`); err != nil {
		s.log.Warn("sqlite table creation failed; using in-memory history", "error", err)
		db.Close()
		return s
	}
	s.db = db
	s.log.Info("sqlite history DB initialized", "path", path)
	return s
}

// Persistent reports whether the store is backed by SQLite.
func (s *Store) Persistent() bool {
	return s.db != nil
}

// Save archives a message, replacing any previous copy with the same id.
func (s *Store) Save(msg Message) error {
	if s.db != nil {
		_, err := s.db.Exec(`INSERT OR REPLACE INTO messages (id, sender, content, created_at, revoked, deleted) VALUES (?,?,?,?,?,?);`,
			msg.ID, msg.Sender, msg.Content, msg.Timestamp, msg.Revoked, msg.Deleted)
		if err != nil {
			return fmt.Errorf("store message %s: %w", msg.ID, err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(msg.ID); i >= 0 {
		s.messages[i] = msg
		return nil
	}
	s.messages = append(s.messages, msg)
	return nil
}

// SaveAll archives msgs in one transaction.
func (s *Store) SaveAll(msgs []Message) error {
	if s.db == nil {
		for _, m := range msgs {
			if err := s.Save(m); err != nil {
				return err
			}
		}
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO messages (id, sender, content, created_at, revoked, deleted) VALUES (?,?,?,?,?,?);`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()
	for _, m := range msgs {
		if _, err := stmt.Exec(m.ID, m.Sender, m.Content, m.Timestamp, m.Revoked, m.Deleted); err != nil {
			tx.Rollback()
			return fmt.Errorf("store message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// Before returns up to limit non-deleted messages strictly older than ts,
// sorted ascending, and whether older messages remain beyond the page.
func (s *Store) Before(ts int64, limit int) ([]Message, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("invalid page size %d", limit)
	}

	var out []Message
	if s.db != nil {
		rows, err := s.db.Query(`SELECT id, sender, content, created_at, revoked, deleted FROM messages
            WHERE created_at < ? AND deleted = 0 ORDER BY created_at DESC, id DESC LIMIT ?;`, ts, limit+1)
		if err != nil {
			return nil, false, fmt.Errorf("query history: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m Message
			var sender sql.NullString
			if err := rows.Scan(&m.ID, &sender, &m.Content, &m.Timestamp, &m.Revoked, &m.Deleted); err != nil {
				return nil, false, fmt.Errorf("scan history row: %w", err)
			}
			m.Sender = sender.String
			out = append(out, m)
		}
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("iterate history: %w", err)
		}
	} else {
		s.mu.Lock()
		for _, m := range s.messages {
			if m.Timestamp < ts && !m.Deleted {
				out = append(out, m)
			}
		}
		s.mu.Unlock()
		slices.SortStableFunc(out, func(a, b Message) int {
			if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
				return c
			}
			return strings.Compare(b.ID, a.ID)
		})
		if len(out) > limit+1 {
			out = out[:limit+1]
		}
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	slices.Reverse(out)
	return out, hasMore, nil
}

// Get returns the archived copy of a message.
func (s *Store) Get(id string) (Message, error) {
	if s.db != nil {
		var m Message
		var sender sql.NullString
		err := s.db.QueryRow(`SELECT id, sender, content, created_at, revoked, deleted FROM messages WHERE id = ?;`, id).
			Scan(&m.ID, &sender, &m.Content, &m.Timestamp, &m.Revoked, &m.Deleted)
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		if err != nil {
			return Message{}, fmt.Errorf("load message %s: %w", id, err)
		}
		m.Sender = sender.String
		return m, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.messages[i], nil
	}
	return Message{}, ErrNotFound
}

// MarkRevoked flags a message as revoked.
func (s *Store) MarkRevoked(id string) error {
	return s.setFlag(id, "revoked", func(m *Message) { m.Revoked = true })
}

// MarkDeleted flags a message as deleted.
func (s *Store) MarkDeleted(id string) error {
	return s.setFlag(id, "deleted", func(m *Message) { m.Deleted = true })
}

func (s *Store) setFlag(id, column string, apply func(*Message)) error {
	if s.db != nil {
		res, err := s.db.Exec(`UPDATE messages SET `+column+` = 1 WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("mark %s %s: %w", column, id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	apply(&s.messages[i])
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == id })
}
