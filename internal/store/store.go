// Package store persists memories and nudges in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"granny-companion/internal/capability"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

const DefaultRecentLimit = 5

type Store struct {
	db   *sql.DB
	path string
}

var _ capability.MemoryStore = (*Store)(nil)

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS nudges (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nudges_status ON nudges(status, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Memory operations

func (s *Store) SaveMemory(ctx context.Context, m capability.Memory) error {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Category == "" {
		m.Category = capability.CategoryDailyUpdate
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, category, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, string(m.UserID), m.Content, string(m.Category), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// RecentMemories returns the newest memories for role, newest first.
func (s *Store) RecentMemories(ctx context.Context, role capability.Role, limit int) ([]capability.Memory, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, category, created_at
		FROM memories WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, string(role), limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []capability.Memory
	for rows.Next() {
		var m capability.Memory
		var userID, category string
		if err := rows.Scan(&m.ID, &userID, &m.Content, &category, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.UserID = capability.Role(userID)
		m.Category = capability.MemoryCategory(category)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Nudge operations

func (s *Store) SendNudge(ctx context.Context, n capability.Nudge) error {
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if n.Status == "" {
		n.Status = capability.NudgeStatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nudges (id, type, title, message, context, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, string(n.Type), n.Title, n.Message, n.Context, n.Status, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert nudge: %w", err)
	}
	return nil
}

// PendingNudges lists nudges not yet delivered, newest first.
func (s *Store) PendingNudges(ctx context.Context, limit int) ([]capability.Nudge, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, message, context, status, created_at
		FROM nudges WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, capability.NudgeStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query nudges: %w", err)
	}
	defer rows.Close()

	var out []capability.Nudge
	for rows.Next() {
		var n capability.Nudge
		var typ string
		if err := rows.Scan(&n.ID, &typ, &n.Title, &n.Message, &n.Context, &n.Status, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan nudge: %w", err)
		}
		n.Type = capability.NudgeType(typ)
		out = append(out, n)
	}
	return out, rows.Err()
}
