package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLocalBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(ctx, NewSessionCreated("rec-1", 4, ts)))

	for _, ch := range []<-chan SessionCreated{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, TypeSessionCreated, ev.Type)
			assert.Equal(t, "rec-1", ev.ID)
			assert.Equal(t, 4, ev.Engagement)
			assert.True(t, ts.Equal(ev.Timestamp))
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestLocalBusUnsubscribesOnCancel(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Equal(t, 0, bus.Subscribers())
}

func TestLocalBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, bus.Publish(ctx, NewSessionCreated("x", 3, time.Now())))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestLocalBusCloseEndsSubscriptions(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, ok := <-ch
	assert.False(t, ok)

	late, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	_, ok = <-late
	assert.False(t, ok)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent(`{"type":"session_created","id":"abc","engagement":5,"timestamp":"2024-03-01T12:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, "abc", ev.ID)
	assert.Equal(t, 5, ev.Engagement)

	_, err = decodeEvent(`{"type":"other"}`)
	assert.Error(t, err)
	_, err = decodeEvent(`not json`)
	assert.Error(t, err)
}
