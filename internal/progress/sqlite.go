//go:build sqlite
// +build sqlite

package progress

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	logx "scoopbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	log logx.Logger

	mu sync.Mutex
	db *sql.DB
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(string(b)); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqliteStore{log: log, db: db}, nil
}

func (s *sqliteStore) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var one int
	err := s.db.QueryRow("SELECT 1 FROM seen WHERE id = ?", id).Scan(&one)
	return err == nil
}

func (s *sqliteStore) MarkSeen(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("INSERT OR IGNORE INTO seen (id) VALUES (?)", id); err != nil {
		s.log.Error("progress flush failed", logx.String("id", id), logx.Err(err))
	}
}

func (s *sqliteStore) Notified(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var one int
	err := s.db.QueryRow("SELECT 1 FROM notified WHERE idx = ?", index).Scan(&one)
	return err == nil
}

func (s *sqliteStore) MarkNotifiedIfNew(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("INSERT OR IGNORE INTO notified (idx) VALUES (?)", index)
	if err != nil {
		s.log.Error("progress flush failed", logx.Int("index", index), logx.Err(err))
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

func (s *sqliteStore) Stats() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var seen, notified int
	_ = s.db.QueryRow("SELECT COUNT(*) FROM seen").Scan(&seen)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM notified").Scan(&notified)
	return seen, notified
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
