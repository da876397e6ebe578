package progress

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "scoopbot/pkg/logx"
)

// document is the on-disk shape. "sent" keys are decimal set indices;
// the field name is kept for compatibility with pre-existing state files.
type document struct {
	Seen map[string]bool `json:"seen"`
	Sent map[string]bool `json:"sent"`
}

// fileStore keeps the whole state in memory and rewrites the backing JSON
// document on every mutation (tmp file + rename, so readers never observe a
// partial snapshot).
type fileStore struct {
	log  logx.Logger
	path string

	mu  sync.Mutex
	doc document
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path}
	s.doc = loadDocument(path, log)
	return s, nil
}

// loadDocument tolerates a missing or corrupt state file: starting over
// with empty maps only costs re-publishing, never a crash loop.
func loadDocument(path string, log logx.Logger) document {
	doc := document{Seen: map[string]bool{}, Sent: map[string]bool{}}

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("progress state unreadable; starting empty", logx.String("path", path), logx.Err(err))
		}
		return doc
	}
	var onDisk document
	if err := json.Unmarshal(b, &onDisk); err != nil {
		log.Warn("progress state corrupt; starting empty", logx.String("path", path), logx.Err(err))
		return doc
	}
	if onDisk.Seen != nil {
		doc.Seen = onDisk.Seen
	}
	if onDisk.Sent != nil {
		doc.Sent = onDisk.Sent
	}
	return doc
}

func (s *fileStore) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Seen[id]
}

func (s *fileStore) MarkSeen(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Seen[id] = true
	s.flushLocked()
}

func (s *fileStore) Notified(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Sent[indexKey(index)]
}

func (s *fileStore) MarkNotifiedIfNew(index int) bool {
	key := indexKey(index)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Sent[key] {
		return false
	}
	s.doc.Sent[key] = true
	s.flushLocked()
	return true
}

func (s *fileStore) Stats() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.Seen), len(s.doc.Sent)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

// flushLocked persists the current snapshot. Failures are logged and
// swallowed: the worker holding this update must not abort, at the cost of
// possibly losing this one mark on a crash.
func (s *fileStore) flushLocked() {
	if err := s.writeLocked(); err != nil {
		s.log.Error("progress flush failed", logx.String("path", s.path), logx.Err(err))
	}
}

func (s *fileStore) writeLocked() error {
	b, err := json.Marshal(s.doc)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
