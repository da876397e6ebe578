package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"scoopbot/internal/feed"
	"scoopbot/internal/progress"
	kit "scoopbot/internal/transport"
	logx "scoopbot/pkg/logx"
)

// ErrRunInProgress is returned when a trigger fires while the previous run
// is still draining its queue.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// ItemSource lists candidate items and resolves their image URLs.
type ItemSource interface {
	Fetch(ctx context.Context) ([]feed.Item, error)
	ImageURL(it feed.Item) string
}

// ImageTransformer produces sticker-ready PNG bytes for an image URL.
type ImageTransformer interface {
	Transform(ctx context.Context, url string) ([]byte, error)
}

type Config struct {
	Workers int
	SetSize int
	// Pace is the minimum spacing between items that reach the network.
	Pace time.Duration
}

// Service drives pipeline runs: fetch the item list, build the claim
// queue, drain it with the worker pool.
type Service struct {
	cfg         Config
	source      ItemSource
	transformer ImageTransformer
	publisher   *Publisher
	store       progress.Store
	log         logx.Logger

	setSize int
	running int32
}

func New(cfg Config, source ItemSource, transformer ImageTransformer, publisher *Publisher, store progress.Store, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SetSize <= 0 {
		cfg.SetSize = 200
	}
	if cfg.Pace <= 0 {
		cfg.Pace = 100 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		source:      source,
		transformer: transformer,
		publisher:   publisher,
		store:       store,
		log:         log,
		setSize:     cfg.SetSize,
	}
}

// RunOnce executes one full ingest cycle. A feed failure is fatal for the
// run and touches nothing; per-item failures are contained in the workers.
// Overlapping triggers are rejected, not queued.
func (s *Service) RunOnce(ctx context.Context) (RunStats, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return RunStats{}, ErrRunInProgress
	}
	defer atomic.StoreInt32(&s.running, 0)

	start := time.Now()
	items, err := s.source.Fetch(ctx)
	if err != nil {
		return RunStats{}, err
	}
	s.log.Info("run started", logx.Int("items", len(items)), logx.Int("workers", s.cfg.Workers))

	limiter := rate.NewLimiter(rate.Every(s.cfg.Pace), 1)
	stats := s.runPool(ctx, newQueue(items), s.cfg.Workers, limiter)

	seen, notified := s.store.Stats()
	s.log.Info("run finished",
		logx.Int("published", stats.Published),
		logx.Int("skipped", stats.Skipped),
		logx.Int("poisoned", stats.Poisoned),
		logx.Int("seen_total", seen),
		logx.Int("sets_announced", notified),
		logx.Duration("dur", time.Since(start)),
	)
	return stats, nil
}

// Sweep walks set indices 0,1,2,... through the deterministic naming
// scheme until a lookup misses, returning the names that exist remotely.
// Purely read-only; used for operational visibility and cleanup tooling.
func (s *Service) Sweep(ctx context.Context) ([]string, error) {
	var names []string
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return names, err
		}
		name := s.publisher.namer.SetName(index)
		_, err := s.publisher.platform.StickerSet(ctx, name)
		if errors.Is(err, kit.ErrSetNotFound) {
			return names, nil
		}
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
}
