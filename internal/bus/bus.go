package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus is the in-process event bus every component publishes into. A sink
// names the event kind prefixes it cares about and optionally a tenant;
// publishing never blocks, so a stalled WebSocket consumer or a missing UI
// connection cannot back-pressure the session pipeline. Overflowed events
// are counted and dropped.
type Bus struct {
	mu      sync.RWMutex
	sinks   map[uint64]*sink
	nextID  uint64
	dropped atomic.Uint64
}

type sink struct {
	prefixes []string
	tenant   string
	ch       chan Event
}

func (s *sink) wants(evt Event) bool {
	if s.tenant != "" && evt.TenantID != "" && evt.TenantID != s.tenant {
		return false
	}
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(evt.Kind, p) {
			return true
		}
	}
	return false
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{sinks: make(map[uint64]*sink)}
}

// Publish delivers evt to every matching sink that has buffer room.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		if !s.wants(evt) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a sink for events whose Kind starts with any of the
// given prefixes; no prefixes means every event. buf bounds how far the
// consumer may fall behind before events are dropped. The returned func
// unsubscribes; the channel is never closed.
func (b *Bus) Subscribe(buf int, prefixes ...string) (<-chan Event, func()) {
	return b.add(&sink{prefixes: prefixes, ch: make(chan Event, buf)})
}

// SubscribeTenant is Subscribe narrowed to one tenant. Events published
// without a tenant are daemon-wide and always pass the filter.
func (b *Bus) SubscribeTenant(tenant string, buf int, prefixes ...string) (<-chan Event, func()) {
	return b.add(&sink{prefixes: prefixes, tenant: tenant, ch: make(chan Event, buf)})
}

// Dropped reports how many events overflowed a sink since startup.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) add(s *sink) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sinks[id] = s
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		delete(b.sinks, id)
		b.mu.Unlock()
	}
}
