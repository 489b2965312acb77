package relay

import (
	"context"
	"sync"
)

// Handle exposes the controls a running relay registers for its
// conversation id.
type Handle struct {
	Cancel func()
}

// Registry tracks live relays by conversation id so the HTTP surface
// (DELETE), the idle reaper, and graceful shutdown can wake them. A second
// registration for the same id cancels and replaces the first.
type Registry struct {
	mu     sync.Mutex
	relays map[string]*trackedRelay
	wg     sync.WaitGroup
}

type trackedRelay struct {
	handle Handle
	once   sync.Once
}

func NewRegistry() *Registry {
	return &Registry{relays: make(map[string]*trackedRelay)}
}

// Register tracks a relay and returns its unregister func.
func (r *Registry) Register(conversationID string, h Handle) (unregister func()) {
	if r == nil {
		return func() {}
	}

	entry := &trackedRelay{handle: h}

	r.mu.Lock()
	old := r.relays[conversationID]
	r.relays[conversationID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		r.unregister(conversationID, old)
	}

	return func() { r.unregister(conversationID, entry) }
}

func (r *Registry) unregister(conversationID string, entry *trackedRelay) {
	if r == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		r.mu.Lock()
		if r.relays[conversationID] == entry {
			delete(r.relays, conversationID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Cancel wakes the relay bridging conversationID, if any.
func (r *Registry) Cancel(conversationID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	entry := r.relays[conversationID]
	r.mu.Unlock()
	if entry == nil || entry.handle.Cancel == nil {
		return false
	}
	entry.handle.Cancel()
	return true
}

// Count reports the number of live relays.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.relays)
}

// CancelAll wakes every live relay; used during shutdown.
func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}
	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.relays {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered relay has unregistered or ctx expires.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
