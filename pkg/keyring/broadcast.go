package keyring

import (
	"sync"

	"github.com/ricardoahumada/sfd-auth-client/pkg/idx"
)

// Event mirrors one storage change. An empty NewValue means the key
// was deleted. Origin identifies the writing instance so subscribers
// can skip events they produced themselves.
type Event struct {
	Key      string
	NewValue string
	Origin   idx.ID
}

// Broadcaster fans storage-change events out to subscribers. Delivery
// is synchronous and in subscription order: within one instance, event
// emission never interleaves with another mutation.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]func(Event)
	next int
}

// NewBroadcaster returns an empty broadcaster. Instances that should
// observe each other (the multi-tab scenario) share one.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for every subsequent event. The returned
// cancel removes the subscription; calling it more than once is safe.
func (b *Broadcaster) Subscribe(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber synchronously.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	// Snapshot so a subscriber can cancel during delivery.
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
