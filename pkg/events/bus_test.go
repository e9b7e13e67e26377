package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusOrdering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel, err := bus.Subscribe("sub-1", "", 16)
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish("session-a", EventTypeTokenDelta, TokenDeltaPayload{Delta: "x"})
	}

	var last uint64
	for i := 0; i < 10; i++ {
		ev := <-ch
		assert.Greater(t, ev.Seq, last, "sequence must be strictly increasing")
		last = ev.Seq
	}
}

func TestBusSessionFilter(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	chA, cancelA, err := bus.Subscribe("sub-a", "session-a", 16)
	require.NoError(t, err)
	defer cancelA()

	chAll, cancelAll, err := bus.Subscribe("sub-all", "", 16)
	require.NoError(t, err)
	defer cancelAll()

	bus.Publish("session-a", EventTypeSessionStarted, nil)
	bus.Publish("session-b", EventTypeSessionStarted, nil)

	ev := <-chA
	assert.Equal(t, "session-a", ev.SessionID)
	select {
	case extra := <-chA:
		t.Fatalf("filtered subscriber received foreign event: %+v", extra)
	default:
	}

	assert.Equal(t, "session-a", (<-chAll).SessionID)
	assert.Equal(t, "session-b", (<-chAll).SessionID)
}

func TestBusDropCoalescing(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel, err := bus.Subscribe("slow", "", 2)
	require.NoError(t, err)
	defer cancel()

	// Fill the buffer, then overflow by three.
	for i := 0; i < 5; i++ {
		bus.Publish("s", EventTypeTokenDelta, TokenDeltaPayload{Delta: "x"})
	}

	// The two buffered events arrive intact.
	assert.Equal(t, EventTypeTokenDelta, (<-ch).Type)
	assert.Equal(t, EventTypeTokenDelta, (<-ch).Type)

	// Draining made room: the next publish flushes one coalesced gap
	// notice covering all three lost events, then delivers normally.
	bus.Publish("s", EventTypeRoundComplete, RoundCompletePayload{Round: 1})

	dropped := <-ch
	require.Equal(t, EventTypeDropped, dropped.Type)
	payload, ok := dropped.Payload.(DroppedPayload)
	require.True(t, ok)
	assert.Equal(t, 3, payload.Count)
	assert.Equal(t, uint64(3), payload.FirstSeq)
	assert.Equal(t, uint64(5), payload.LastSeq)
	assert.Equal(t, uint64(5), dropped.Seq, "notice carries the last lost seq")

	next := <-ch
	assert.Equal(t, EventTypeRoundComplete, next.Type)
	assert.Greater(t, next.Seq, dropped.Seq, "stream stays strictly increasing")
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, cancel, err := bus.Subscribe("stuck", "", 1)
	require.NoError(t, err)
	defer cancel()

	// Nobody reads the channel; all publishes must still return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("s", EventTypeTokenDelta, nil)
		}
		close(done)
	}()
	<-done
}

func TestBusSubscribeLifecycle(t *testing.T) {
	bus := NewBus()

	_, _, err := bus.Subscribe("dup", "", 1)
	require.NoError(t, err)
	_, _, err = bus.Subscribe("dup", "", 1)
	require.Error(t, err)

	ch, cancel, err := bus.Subscribe("closer", "", 1)
	require.NoError(t, err)
	cancel()
	cancel() // idempotent
	_, open := <-ch
	assert.False(t, open, "cancel must close the channel")

	bus.Close()
	_, _, err = bus.Subscribe("late", "", 1)
	require.Error(t, err)
}
