package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"overunder/internal/inflight"
	"overunder/internal/oracle"
)

// setupRedis starts a Redis container and returns a connected Client.
func setupRedis(t *testing.T) *Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewFromURL(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLockManager_AcquireRelease(t *testing.T) {
	client := setupRedis(t)
	lm := NewLockManager(client, "test:")
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "buy:sig1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "buy:sig1", time.Minute)
	assert.ErrorIs(t, err, inflight.ErrLockHeld)

	unlock()
	unlock() // second call is a no-op

	unlock2, err := lm.Acquire(ctx, "buy:sig1", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockManager_Expires(t *testing.T) {
	client := setupRedis(t)
	lm := NewLockManager(client, "test:")
	ctx := context.Background()

	_, err := lm.Acquire(ctx, "settle:1", 200*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		unlock, err := lm.Acquire(ctx, "settle:1", time.Minute)
		if err != nil {
			return false
		}
		unlock()
		return true
	}, 5*time.Second, 100*time.Millisecond)
}

func TestLockManager_GuardAcrossProcesses(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	// Two guards with their own local sets share one redis.
	a := inflight.NewGuard("sell", NewLockManager(client, "test:"), time.Minute)
	b := inflight.NewGuard("sell", NewLockManager(client, "test:"), time.Minute)

	release, ok, err := a.TryAcquire(ctx, "sig")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryAcquire(ctx, "sig")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	_, ok, err = b.TryAcquire(ctx, "sig")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPriceCache_SetGet(t *testing.T) {
	client := setupRedis(t)
	pc := NewPriceCache(client, "test:", time.Minute)
	ctx := context.Background()

	_, _, err := pc.GetPrice(ctx, "solana:usd")
	assert.ErrorIs(t, err, oracle.ErrCacheMiss)

	ts := time.Unix(1_700_000_000, 123)
	require.NoError(t, pc.SetPrice(ctx, "solana:usd", 187.25, ts))

	price, got, err := pc.GetPrice(ctx, "solana:usd")
	require.NoError(t, err)
	assert.Equal(t, 187.25, price)
	assert.True(t, got.Equal(ts))
}
