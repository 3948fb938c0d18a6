package engine

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Progress kinds.
const (
	ProgressExecuted = "executed"
	ProgressReplayed = "replayed"
)

// ProgressEvent reports that a durable action of an invocation completed,
// either by running or by being served from the journal.
type ProgressEvent struct {
	Name string    `json:"name"`
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
}

// ProgressBroker fans out progress events of running invocations to
// subscribers. It is safe for concurrent use.
//
// A topic lives while its attempt is open or while someone is subscribed.
// Subscribers that arrive after an attempt closed wait on a fresh topic, so
// callers must check the invocation status after subscribing.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan ProgressEvent
	nextID int
	open   bool
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Open marks the invocation's topic live for the current attempt.
// Subscribers that arrived before the attempt started stay subscribed.
func (b *ProgressBroker) Open(invocationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan ProgressEvent)}
		b.topics[invocationID] = t
	}
	t.open = true
}

// Subscribe returns a channel that receives progress events for the given
// invocation and an unsubscribe function. The channel is closed when the
// next attempt to finish is closed.
func (b *ProgressBroker) Subscribe(invocationID string) (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan ProgressEvent)}
		b.topics[invocationID] = t
	}

	ch := make(chan ProgressEvent, subscriberBufferSize)
	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if !t.open && len(t.subs) == 0 && b.topics[invocationID] == t {
			delete(b.topics, invocationID)
		}
	}
}

// Publish sends an event to all subscribers of the given invocation.
// Events are dropped for subscribers whose buffers are full.
func (b *ProgressBroker) Publish(invocationID string, ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close signals that the current attempt will publish nothing more. All
// subscriber channels are closed and the topic is forgotten.
func (b *ProgressBroker) Close(invocationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		return
	}
	for _, ch := range t.subs {
		close(ch)
	}
	delete(b.topics, invocationID)
}
