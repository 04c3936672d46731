package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"botcore/pkg/llm"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite stores histories in a single SQLite file, one row per
// (provider, session) with the messages encoded as JSON.
type SQLite struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once
	closeErr  error

	loadStmt   *sql.Stmt
	saveStmt   *sql.Stmt
	deleteStmt *sql.Stmt
}

// OpenSQLite opens (creating if needed) the history database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_histories (
		provider_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		messages TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (provider_id, session_id)
	);

	CREATE INDEX IF NOT EXISTS idx_chat_histories_updated ON chat_histories(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) prepareStatements() error {
	var err error

	s.loadStmt, err = s.db.Prepare(`SELECT messages FROM chat_histories WHERE provider_id = ? AND session_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare load: %w", err)
	}

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO chat_histories (provider_id, session_id, messages, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (provider_id, session_id) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM chat_histories WHERE provider_id = ? AND session_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	return nil
}

func (s *SQLite) LoadHistory(ctx context.Context, providerID, sessionID string) ([]llm.Message, error) {
	var raw string
	err := s.loadStmt.QueryRowContext(ctx, providerID, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var msgs []llm.Message
	if err := json.UnmarshalFromString(raw, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return msgs, nil
}

func (s *SQLite) SaveHistory(ctx context.Context, providerID, sessionID string, messages []llm.Message) error {
	if messages == nil {
		messages = []llm.Message{}
	}
	raw, err := json.MarshalToString(messages)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if _, err := s.saveStmt.ExecContext(ctx, providerID, sessionID, raw, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteHistory(ctx context.Context, providerID, sessionID string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, providerID, sessionID); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

// Close releases statements and the underlying connection. Safe to call twice.
func (s *SQLite) Close() error {
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.loadStmt, s.saveStmt, s.deleteStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
