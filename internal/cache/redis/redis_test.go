package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "reg:"}
	assert.Equal(t, "reg:lock:registry", c.key("lock:", "registry"))

	bare := &Client{}
	assert.Equal(t, "registry:events", bare.key("registry:events"))
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingWindowLua, "PEXPIRE")
}

// testClient connects to REGISTRYD_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REGISTRYD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REGISTRYD_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{
		Addr:      addr,
		KeyPrefix: "test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManagerExclusive(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "registry", 5*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "registry", 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "registry", 5*time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestEventBusStreamRoundTrip(t *testing.T) {
	c := testClient(t)
	bus := NewEventBus(c, 0)
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, domain.EventsStream, []byte(`{"n":1}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.EventsStream, []byte(`{"n":2}`)))

	msgs, err := bus.StreamRead(ctx, domain.EventsStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":1}`, string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, domain.EventsStream, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, `{"n":2}`, string(rest[0].Payload))
}

func TestEventBusPublishSubscribe(t *testing.T) {
	c := testClient(t)
	bus := NewEventBus(c, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "registry:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.EventsChannel, []byte("hello")))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
