package progress

import (
	"errors"
	"strconv"
	"strings"
	"time"

	logx "scoopbot/pkg/logx"
)

// Config selects the progress store backend.
//
// Driver values:
//   - "file": single JSON document (default)
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the dedup state shared by all pipeline workers.
//
// Seen/Notified reads and the mark operations are individually atomic.
// MarkNotifiedIfNew performs its check-then-set under one lock so two
// workers racing on the same set index produce exactly one winner.
type Store interface {
	Seen(id string) bool
	// MarkSeen records the item and flushes. Flush failures are logged
	// and swallowed; the in-memory state still advances.
	MarkSeen(id string)

	Notified(index int) bool
	// MarkNotifiedIfNew reports whether this call was the first to mark
	// the index. On true the caller owns sending the one announcement.
	MarkNotifiedIfNew(index int) bool

	// Stats returns the number of seen items and notified set indices.
	Stats() (seen, notified int)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// indexKey renders a set index the way the state document stores it.
func indexKey(index int) string { return strconv.Itoa(index) }
