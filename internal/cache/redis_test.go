package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) (*RedisInvalidator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisInvalidator(client, "catalog:", zap.NewNop()), mr
}

func TestInvalidateDeletesTaggedKeys(t *testing.T) {
	inv, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("catalog:products:page=1", "[...]"))
	require.NoError(t, mr.Set("catalog:categories:tree", "{...}"))
	require.NoError(t, mr.Set("catalog:unrelated", "keep"))
	require.NoError(t, inv.Tag(ctx, "catalog:products:page=1", "products"))
	require.NoError(t, inv.Tag(ctx, "catalog:categories:tree", "categories", "products"))

	require.NoError(t, inv.Invalidate(ctx, "products", "categories"))

	require.False(t, mr.Exists("catalog:products:page=1"))
	require.False(t, mr.Exists("catalog:categories:tree"))
	require.False(t, mr.Exists("catalog:tag:products"))
	require.False(t, mr.Exists("catalog:tag:categories"))
	require.True(t, mr.Exists("catalog:unrelated"))
}

func TestInvalidateWithoutTaggedKeys(t *testing.T) {
	inv, _ := setupRedis(t)

	require.NoError(t, inv.Invalidate(context.Background(), "products"))
	require.NoError(t, inv.Invalidate(context.Background()))
}

func TestInvalidateReportsUnavailableServer(t *testing.T) {
	inv, mr := setupRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, inv.Invalidate(ctx, "products"))
}

func TestPing(t *testing.T) {
	inv, mr := setupRedis(t)
	require.NoError(t, inv.Ping(context.Background()))

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorContains(t, inv.Ping(ctx), "ping redis")
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewRedisClient(context.Background(), RedisConfig{})
	require.Error(t, err)
}

func TestNoopNeverFails(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewNoop(nil).Invalidate(context.Background(), "products", "categories"))
}
