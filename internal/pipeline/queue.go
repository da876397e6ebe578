package pipeline

import (
	"sync"

	"scoopbot/internal/feed"
)

// queue hands each item to exactly one worker together with a monotonic
// claim position. Set assignment is position/SetSize: claim order, not the
// remaining-queue-length countdown an earlier incarnation used, so item
// ordering survives concurrent pops.
type queue struct {
	mu    sync.Mutex
	items []feed.Item
	next  int
}

func newQueue(items []feed.Item) *queue {
	return &queue{items: items}
}

// pop claims the next item. ok is false once the queue is drained.
func (q *queue) pop() (it feed.Item, pos int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.items) {
		return feed.Item{}, 0, false
	}
	it = q.items[q.next]
	pos = q.next
	q.next++
	return it, pos, true
}
