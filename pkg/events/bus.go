package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSubscriberBuffer is used when Subscribe is called with a
// non-positive buffer size.
const DefaultSubscriberBuffer = 256

// Bus is an in-process broadcast bus. Every published event gets a global,
// strictly increasing sequence number; each subscriber sees events in that
// order. Publish never blocks: a subscriber whose buffer is full loses
// events, and the gap is reported with a single coalesced "dropped" event
// once the buffer drains.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[string]*subscriber
	closed bool
}

type subscriber struct {
	id        string
	sessionID string // "" subscribes to all sessions
	ch        chan Event

	// Drop accounting, guarded by the bus mutex.
	dropped  int
	firstSeq uint64
	lastSeq  uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a subscriber. sessionID filters delivery to a single
// session; pass "" to receive events for all sessions. The returned cancel
// function unregisters the subscriber and closes its channel; it is safe
// to call more than once.
func (b *Bus) Subscribe(id, sessionID string, buffer int) (<-chan Event, func(), error) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, fmt.Errorf("event bus is closed")
	}
	if _, exists := b.subs[id]; exists {
		return nil, nil, fmt.Errorf("subscriber %q already registered", id)
	}

	sub := &subscriber{
		id:        id,
		sessionID: sessionID,
		ch:        make(chan Event, buffer),
	}
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if current, ok := b.subs[id]; ok && current == sub {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel, nil
}

// Publish broadcasts an event and returns its sequence number. Assigning
// the sequence and fanning out happen under one lock so no subscriber can
// observe events out of order.
func (b *Bus) Publish(sessionID, eventType string, payload any) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return b.seq
	}

	b.seq++
	ev := Event{
		Seq:       b.seq,
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != sessionID {
			continue
		}
		b.deliver(sub, ev)
	}
	return ev.Seq
}

// deliver attempts a non-blocking send, flushing any pending drop notice
// first. Caller holds b.mu.
func (b *Bus) deliver(sub *subscriber, ev Event) {
	if sub.dropped > 0 {
		// The gap notice and the event both need a slot, otherwise the
		// current event joins the gap.
		if cap(sub.ch)-len(sub.ch) < 2 {
			b.recordDrop(sub, ev.Seq)
			return
		}
		// The notice takes the last dropped seq: those numbers were never
		// delivered, so the subscriber's stream stays strictly increasing.
		sub.ch <- Event{
			Seq:       sub.lastSeq,
			SessionID: ev.SessionID,
			Type:      EventTypeDropped,
			Payload: DroppedPayload{
				Count:    sub.dropped,
				FirstSeq: sub.firstSeq,
				LastSeq:  sub.lastSeq,
			},
			Timestamp: ev.Timestamp,
		}
		slog.Warn("Event subscriber dropped events",
			"subscriber", sub.id, "count", sub.dropped,
			"first_seq", sub.firstSeq, "last_seq", sub.lastSeq)
		sub.dropped = 0
	}

	select {
	case sub.ch <- ev:
	default:
		b.recordDrop(sub, ev.Seq)
	}
}

func (b *Bus) recordDrop(sub *subscriber, seq uint64) {
	if sub.dropped == 0 {
		sub.firstSeq = seq
	}
	sub.dropped++
	sub.lastSeq = seq
}

// Close shuts the bus down, closing all subscriber channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
