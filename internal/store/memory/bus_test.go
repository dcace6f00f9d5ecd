package memory

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

func TestBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()

	exact, err := b.Subscribe(ctx, "registry:events")
	require.NoError(t, err)
	pattern, err := b.Subscribe(ctx, "registry:*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "registry:events", []byte("one")))
	require.NoError(t, b.Publish(ctx, "other", []byte("two")))

	select {
	case msg := <-exact:
		assert.Equal(t, "one", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message on exact subscription")
	}
	select {
	case msg := <-pattern:
		assert.Equal(t, "one", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message on pattern subscription")
	}

	cancel()
	for range exact {
	}
	for range pattern {
	}
}

func TestBusStreams(t *testing.T) {
	ctx := context.Background()
	b := NewBus()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "s", []byte(p)))
	}

	msgs, err := b.StreamRead(ctx, "s", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Payload))

	rest, err := b.StreamRead(ctx, "s", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", string(rest[0].Payload))

	empty, err := b.StreamRead(ctx, "missing", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
