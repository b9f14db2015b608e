// Package eventbus implements the in-process publish/subscribe primitive
// of spec.md §4.7, adapted from telnet2-opencode's internal/event.Bus shape
// (subscriber map keyed by subscription id, priority-ordered dispatch) and
// extended with the glob topic matching and bounded-queue back-pressure the
// kernel's spec requires. telnet2-opencode's own bus sits on watermill's
// gochannel pubsub; that substrate gives no glob-topic or priority-ordering
// primitive of its own; building either on top of it would mean routing
// every publish through a single fixed watermill topic and re-deriving
// subscriber matching/ordering in the handler anyway, so the gochannel layer
// would carry no dispatch semantics — exactly the decorative-dependency
// shape this package used to have. It is dropped in favor of owning the
// subscriber map directly.
package eventbus

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agentkernel/agentkernel/pkg/clock"
)

// Priority orders dispatch and determines which events are dropped first
// under back-pressure.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Event is one published message (spec.md §3).
type Event struct {
	ID            string
	Type          string
	Payload       map[string]any
	Priority      Priority
	Source        string
	CorrelationID string
	Timestamp     int64
}

// Handler receives dispatched events. Filter, if non-nil, is consulted
// before Handler runs; returning false skips this subscriber for the event.
type Handler func(Event)
type Filter func(Event) bool

type subscription struct {
	id       string
	pattern  string
	handler  Handler
	priority Priority
	filter   Filter
}

// Bus is the kernel's event bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscription

	queueLimit int
	queued     int32
	failed     int64

	clk clock.Clock
}

// Config configures a Bus.
type Config struct {
	QueueLimit int // bounded queue size; 0 means unbounded
	Clock      clock.Clock
}

// NewBus constructs an event Bus.
func NewBus(cfg Config) *Bus {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Default
	}
	return &Bus{
		subs:       make(map[string]*subscription),
		queueLimit: cfg.QueueLimit,
		clk:        clk,
	}
}

// topicMatches reports whether topic matches pattern, where pattern
// supports '*' (one dotted segment) and '?' (exactly one character),
// matching spec.md's `agent.*` / `agent.message.?` examples.
func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pParts := strings.Split(pattern, ".")
	tParts := strings.Split(topic, ".")
	if len(pParts) != len(tParts) {
		return false
	}
	for i, pp := range pParts {
		tp := tParts[i]
		if pp == "*" {
			continue
		}
		if len(pp) == len(tp) && strings.ContainsRune(pp, '?') {
			matched := true
			for j := range pp {
				if pp[j] != '?' && pp[j] != tp[j] {
					matched = false
					break
				}
			}
			if matched {
				continue
			}
		}
		if pp != tp {
			return false
		}
	}
	return true
}

// Subscribe registers handler for topic (which may contain glob
// wildcards), returning a subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(topic string, priority Priority, filter Filter, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := clock.NewID(clock.KindSub)
	b.subs[id] = &subscription{id: id, pattern: topic, handler: handler, priority: priority, filter: filter}
	return id
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish dispatches an event to all matching subscribers, ordered by
// subscriber priority descending. If blocking is false and the bus is at
// its queue limit, an event below PriorityHigh is dropped and the failed
// counter increments (observable through Failed()); HIGH and CRITICAL
// events are still dispatched.
func (b *Bus) Publish(eventType string, payload map[string]any, priority Priority, source, correlationID string, blocking bool) string {
	ev := Event{
		ID:            clock.NewID(clock.KindEvent),
		Type:          eventType,
		Payload:       payload,
		Priority:      priority,
		Source:        source,
		CorrelationID: correlationID,
		Timestamp:     b.clk.Now().UnixNano(),
	}

	if !blocking && b.queueLimit > 0 {
		if atomic.LoadInt32(&b.queued) >= int32(b.queueLimit) {
			if priority < PriorityHigh {
				atomic.AddInt64(&b.failed, 1)
				return ev.ID
			}
		}
	}

	atomic.AddInt32(&b.queued, 1)
	defer atomic.AddInt32(&b.queued, -1)

	matched := b.matchingSubs(ev.Type)

	var wg sync.WaitGroup
	for _, sub := range matched {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() { recover() }() // a handler panic never blocks siblings
			h(ev)
		}(sub.handler)
	}
	if blocking {
		wg.Wait()
	}

	return ev.ID
}

func (b *Bus) matchingSubs(topic string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*subscription
	for _, s := range b.subs {
		if topicMatches(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].priority > matched[j].priority
	})
	return matched
}

// Failed returns the count of events dropped due to queue back-pressure.
func (b *Bus) Failed() int64 {
	return atomic.LoadInt64(&b.failed)
}

// Close is a no-op retained for symmetry with other kernel subsystems that
// own closable resources (storage.Backend, config.Watcher); the bus itself
// holds nothing that needs releasing.
func (b *Bus) Close() error {
	return nil
}
