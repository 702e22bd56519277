package watch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/watch"
)

func receive(t *testing.T, ch <-chan watch.Event) watch.Event {
	t.Helper()

	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	return watch.Event{}
}

func TestHubExactKey(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := watch.NewHub()
	ch := hub.Subscribe(ctx, []byte("/a"))

	hub.Publish(
		watch.Event{Key: []byte("/ab"), Revision: 1},
		watch.Event{Key: []byte("/a"), Revision: 2},
	)

	ev := receive(t, ch)
	assert.Equal(t, []byte("/a"), ev.Key)
	assert.Equal(t, int64(2), ev.Revision)
}

func TestHubPrefix(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := watch.NewHub()
	ch := hub.Subscribe(ctx, []byte("/users/"), watch.WithPrefix())

	hub.Publish(
		watch.Event{Key: []byte("/users/1"), Revision: 3},
		watch.Event{Key: []byte("/groups/1"), Revision: 3},
		watch.Event{Key: []byte("/users/2"), Revision: 4, Tombstone: true},
	)

	assert.Equal(t, []byte("/users/1"), receive(t, ch).Key)

	ev := receive(t, ch)
	assert.Equal(t, []byte("/users/2"), ev.Key)
	assert.True(t, ev.Tombstone)
}

func TestHubDropsWhenFull(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := watch.NewHub()
	_ = hub.Subscribe(ctx, []byte("k"), watch.WithBuffer(1))

	hub.Publish(watch.Event{Key: []byte("k"), Revision: 1}, watch.Event{Key: []byte("k"), Revision: 2})

	assert.Equal(t, uint64(1), hub.Dropped())
}

func TestHubCancelClosesChannel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	hub := watch.NewHub()
	ch := hub.Subscribe(ctx, []byte("k"))

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	hub := watch.NewHub()
	ch := hub.Subscribe(context.Background(), []byte("k"))

	hub.Close()
	hub.Close()

	_, ok := <-ch
	assert.False(t, ok)

	_, ok = <-hub.Subscribe(context.Background(), []byte("k"))
	assert.False(t, ok)
}
