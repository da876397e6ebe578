package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	logx "scoopbot/pkg/logx"
)

// RunStats summarizes one pipeline run.
type RunStats struct {
	Published int
	Skipped   int
	Poisoned  int
}

type counters struct {
	published int64
	skipped   int64
	poisoned  int64
}

func (c *counters) stats() RunStats {
	return RunStats{
		Published: int(atomic.LoadInt64(&c.published)),
		Skipped:   int(atomic.LoadInt64(&c.skipped)),
		Poisoned:  int(atomic.LoadInt64(&c.poisoned)),
	}
}

// runPool drains q with workers goroutines and returns aggregate counts.
// The limiter paces every item that reached the network; dedup skips are
// free.
func (s *Service) runPool(ctx context.Context, q *queue, workers int, limiter *rate.Limiter) RunStats {
	var c counters
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s.worker(ctx, q, limiter, &c, s.log.With(logx.Int("worker", idx)))
		}(i)
	}
	wg.Wait()
	return c.stats()
}

// worker loops claim → dedup → transform → publish → announce → commit →
// pace until the queue is drained or the context is cancelled. Per-item
// failures mark the item seen (poison policy): forward progress beats
// completeness, and a permanently broken image must not be retried forever.
func (s *Service) worker(ctx context.Context, q *queue, limiter *rate.Limiter, c *counters, log logx.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, pos, ok := q.pop()
		if !ok {
			return
		}

		id := item.SourceID()
		if s.store.Seen(id) {
			atomic.AddInt64(&c.skipped, 1)
			continue
		}

		index := pos / s.setSize
		ilog := log.With(logx.String("item", id), logx.Int("set", index))

		png, err := s.transformer.Transform(ctx, s.source.ImageURL(item))
		if err != nil {
			ilog.Warn("item poisoned: transform", logx.Err(err))
			s.store.MarkSeen(id)
			atomic.AddInt64(&c.poisoned, 1)
			s.pace(ctx, limiter)
			continue
		}

		if !s.publisher.EnsureSet(ctx, index, png) {
			if err := s.publisher.Append(ctx, index, png); err != nil {
				ilog.Warn("item poisoned: append", logx.Err(err))
				s.store.MarkSeen(id)
				atomic.AddInt64(&c.poisoned, 1)
				s.pace(ctx, limiter)
				continue
			}
		}

		s.publisher.NotifyFirstIfNeeded(ctx, index)

		s.store.MarkSeen(id)
		atomic.AddInt64(&c.published, 1)
		ilog.Debug("item published")
		s.pace(ctx, limiter)
	}
}

func (s *Service) pace(ctx context.Context, limiter *rate.Limiter) {
	if limiter == nil {
		return
	}
	_ = limiter.Wait(ctx)
}
