package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWildcardTopicMatching(t *testing.T) {
	assert.True(t, topicMatches("agent.*", "agent.started"))
	assert.False(t, topicMatches("agent.*", "agents.started"), "agent.* must not match agents.started")
	assert.True(t, topicMatches("agent.message.?", "agent.message.1"))
	assert.False(t, topicMatches("agent.message.?", "agent.message.12"))
	assert.True(t, topicMatches("agent.started", "agent.started"))
}

func TestPublishDispatchesToMatchingSubscribersOnly(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	var mu sync.Mutex
	var got []string

	b.Subscribe("agent.*", PriorityNormal, nil, func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})
	b.Subscribe("tool.*", PriorityNormal, nil, func(e Event) {
		mu.Lock()
		got = append(got, "SHOULD_NOT_MATCH:"+e.Type)
		mu.Unlock()
	})

	b.Publish("agent.started", nil, PriorityNormal, "kernel", "", true)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"agent.started"}, got)
}

func TestPriorityOrderingDescending(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	var mu sync.Mutex
	var order []string

	b.Subscribe("x", PriorityLow, nil, func(e Event) {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
	})
	b.Subscribe("x", PriorityCritical, nil, func(e Event) {
		mu.Lock()
		order = append(order, "critical")
		mu.Unlock()
	})
	b.Subscribe("x", PriorityNormal, nil, func(e Event) {
		mu.Lock()
		order = append(order, "normal")
		mu.Unlock()
	})

	matched := b.matchingSubs("x")
	require.Len(t, matched, 3)
	assert.Equal(t, PriorityCritical, matched[0].priority)
	assert.Equal(t, PriorityNormal, matched[1].priority)
	assert.Equal(t, PriorityLow, matched[2].priority)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	var calls int
	var mu sync.Mutex
	id := b.Subscribe("agent.started", PriorityNormal, nil, func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	b.Unsubscribe(id)
	b.Publish("agent.started", nil, PriorityNormal, "", "", true)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestHandlerPanicDoesNotBlockSiblings(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	var mu sync.Mutex
	sawSecond := false

	b.Subscribe("x", PriorityNormal, nil, func(e Event) { panic("boom") })
	b.Subscribe("x", PriorityNormal, nil, func(e Event) {
		mu.Lock()
		sawSecond = true
		mu.Unlock()
	})

	b.Publish("x", nil, PriorityNormal, "", "", true)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawSecond, "a panicking handler must not prevent sibling dispatch")
}

func TestBackPressureDropsLowPriorityOnOverflow(t *testing.T) {
	b := NewBus(Config{QueueLimit: 0})
	defer b.Close()
	// Force queue at capacity by setting the limit to a value already met.
	b.queueLimit = 1
	b.queued = 1

	id := b.Publish("x", nil, PriorityNormal, "", "", false)
	assert.NotEmpty(t, id)
	assert.Equal(t, int64(1), b.Failed())

	id = b.Publish("x", nil, PriorityCritical, "", "", false)
	assert.NotEmpty(t, id)
	assert.Equal(t, int64(1), b.Failed(), "CRITICAL priority must not be dropped by back-pressure")
}

func TestEventTimestampUsesInjectedClock(t *testing.T) {
	fixed := time.Unix(12345, 0)
	clkStub := stubClock{now: fixed}
	b := NewBus(Config{Clock: clkStub})
	defer b.Close()

	var got Event
	b.Subscribe("x", PriorityNormal, nil, func(e Event) { got = e })
	b.Publish("x", nil, PriorityNormal, "", "", true)

	assert.Equal(t, fixed.UnixNano(), got.Timestamp)
}

type stubClock struct{ now time.Time }

func (s stubClock) Now() time.Time { return s.now }
