package livereload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroadcaster(t *testing.T, opts ...Option) *Broadcaster {
	t.Helper()
	b, err := NewBroadcaster(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func receive(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg := <-c.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := newTestBroadcaster(t)

	c1 := b.Subscribe("sse")
	c2 := b.Subscribe("websocket")
	assert.Equal(t, 2, b.Count())
	assert.NotEqual(t, c1.ID, c2.ID)
	assert.Len(t, c1.ID, 26)

	b.Unsubscribe(c1)
	assert.Equal(t, 1, b.Count())

	select {
	case <-c1.Done():
	default:
		t.Fatal("Done should be closed after Unsubscribe")
	}

	// Second call is a no-op
	b.Unsubscribe(c1)
	assert.Equal(t, 1, b.Count())
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	b := newTestBroadcaster(t)

	c1 := b.Subscribe("sse")
	c2 := b.Subscribe("sse")

	assert.Equal(t, 2, b.Broadcast(RefreshMessage))
	assert.Equal(t, RefreshMessage, receive(t, c1))
	assert.Equal(t, RefreshMessage, receive(t, c2))
}

func TestBroadcastSkipsRemovedClient(t *testing.T) {
	b := newTestBroadcaster(t)

	gone := b.Subscribe("sse")
	stay := b.Subscribe("sse")
	b.Unsubscribe(gone)

	assert.Equal(t, 1, b.Broadcast(RefreshMessage))
	assert.Equal(t, RefreshMessage, receive(t, stay))
	assert.Empty(t, gone.Messages())
}

func TestBroadcastDropsFullClient(t *testing.T) {
	b := newTestBroadcaster(t)

	c := b.Subscribe("sse")
	for i := 0; i < sendBufSize; i++ {
		b.Broadcast(RefreshMessage)
	}
	assert.Equal(t, 1, b.Count())

	assert.Equal(t, 0, b.Broadcast(RefreshMessage))
	assert.Equal(t, 0, b.Count())

	select {
	case <-c.Done():
	default:
		t.Fatal("slow client should be removed")
	}
}

func TestRunCoalescesNotifications(t *testing.T) {
	b := newTestBroadcaster(t, WithDebounce(30*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	c := b.Subscribe("sse")
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Notify("/srv/a.md"))
	}

	assert.Equal(t, RefreshMessage, receive(t, c))

	// The burst may span at most a couple of windows, never five.
	time.Sleep(100 * time.Millisecond)
	assert.Less(t, len(c.Messages()), 4)
}

func TestRunWithoutDebounce(t *testing.T) {
	b := newTestBroadcaster(t, WithDebounce(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	c := b.Subscribe("sse")
	require.NoError(t, b.Notify("/srv/a.md"))

	assert.Equal(t, RefreshMessage, receive(t, c))
}

func TestRunCancelDisconnectsClients(t *testing.T) {
	b := newTestBroadcaster(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	c := b.Subscribe("sse")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, 0, b.Count())
	select {
	case <-c.Done():
	default:
		t.Fatal("client should be disconnected on shutdown")
	}
}
