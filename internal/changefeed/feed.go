package changefeed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rendis/metrica/pkg/schema"
)

const defaultChannelBuffer = 64

// Feed delivers change events from the underlying data store to the
// scheduler. Delivery is at-least-once; order is not guaranteed across tables.
type Feed interface {
	Publish(ctx context.Context, event schema.ChangeEvent) error
	Subscribe(ctx context.Context, filter Filter) (<-chan schema.ChangeEvent, func(), error)
}

// Filter narrows a subscription. Empty Tables means every table.
type Filter struct {
	Tables []string
}

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch     chan schema.ChangeEvent
	filter Filter
}

// MemoryFeed is an in-memory Feed implementation using channels.
type MemoryFeed struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

// NewMemoryFeed creates a new MemoryFeed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		subs: make(map[uint64]*subscriber),
	}
}

// Publish sends an event to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the event is dropped.
func (f *MemoryFeed) Publish(ctx context.Context, event schema.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
	return nil
}

// Subscribe creates a new subscription filtered by the given Filter.
// Returns a receive-only channel, a cancel function, and any error.
func (f *MemoryFeed) Subscribe(ctx context.Context, filter Filter) (<-chan schema.ChangeEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := f.seq.Add(1)
	ch := make(chan schema.ChangeEvent, defaultChannelBuffer)

	f.mu.Lock()
	f.subs[id] = &subscriber{ch: ch, filter: filter}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}

	return ch, cancel, nil
}

// matchFilter returns true if the event passes the filter criteria.
func matchFilter(f Filter, e schema.ChangeEvent) bool {
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == e.Table {
			return true
		}
	}
	return false
}

var _ Feed = (*MemoryFeed)(nil)
