package appevent

import (
	"slices"
	"sync"
)

type subscription struct {
	id int64
	fn func(Event)
}

// Bus fans events out to subscribers in subscription order. Dispatch is
// synchronous on the publisher's goroutine, so subscribers must not
// block. Subscribing or unsubscribing during dispatch is safe; the
// change applies from the next Publish.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns an unsubscribe closure. After the
// closure returns, fn will not be invoked again. Calling it more than
// once is a no-op.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	subs := slices.Clone(b.subs)
	subs = append(subs, subscription{id: id, fn: fn})
	b.subs = subs
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		i := slices.IndexFunc(b.subs, func(s subscription) bool {
			return s.id == id
		})
		if i < 0 {
			return
		}
		b.subs = slices.Delete(slices.Clone(b.subs), i, i+1)
	}
}

// Publish delivers e to every current subscriber. The subscriber list
// is snapshotted up front, so a subscriber that unsubscribes a peer
// mid-dispatch does not affect this delivery round.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(e)
	}
}
