package appevent

import (
	"context"
	"sync"
)

// Visibility folds VisibilityChanged events into a current state and
// lets callers wait for the page to become visible. The page starts
// visible; a hidden tab that was opened in the background reports its
// first VisibilityChanged before any work that cares begins.
type Visibility struct {
	mu      sync.Mutex
	visible bool
	waiters []chan struct{}
	unsub   func()
}

// TrackVisibility subscribes a tracker to bus. Close releases the
// subscription.
func TrackVisibility(bus *Bus) *Visibility {
	v := &Visibility{visible: true}
	v.unsub = bus.Subscribe(func(e Event) {
		if vc, ok := e.(VisibilityChanged); ok {
			v.set(vc.Visible)
		}
	})
	return v
}

func (v *Visibility) set(visible bool) {
	v.mu.Lock()
	waiters := []chan struct{}(nil)
	if visible && !v.visible {
		waiters = v.waiters
		v.waiters = nil
	}
	v.visible = visible
	v.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Visible reports the current state.
func (v *Visibility) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// AwaitVisible blocks until the page is visible or ctx ends. It returns
// immediately when already visible.
func (v *Visibility) AwaitVisible(ctx context.Context) error {
	v.mu.Lock()
	if v.visible {
		v.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	v.waiters = append(v.waiters, ch)
	v.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unsubscribes the tracker from its bus. Pending AwaitVisible
// calls keep waiting on ctx; the state no longer updates.
func (v *Visibility) Close() {
	if v.unsub != nil {
		v.unsub()
	}
}
