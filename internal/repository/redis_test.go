package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"studio-agent/internal/domain"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := NewRedisStore(rdb, time.Hour, time.Minute)
	require.NoError(t, err)
	return mr, store
}

func TestNewRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(nil, 0, 0)
	require.Error(t, err)

	store, err := NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 0, 0)
	require.NoError(t, err)
	require.Equal(t, defaultSessionTTL, store.ttl)
	require.Equal(t, defaultLockLease, store.lease)
}

func TestRedisStore_FullTurn(t *testing.T) {
	mr, store := setupRedis(t)
	ctx := context.Background()

	prior, lease, err := store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, domain.GreetingTranscript(), prior)
	require.NotEmpty(t, lease)
	owner, err := mr.Get(lockKey("abc"))
	require.NoError(t, err)
	require.Equal(t, lease, owner)

	_, _, err = store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "again"})
	require.ErrorIs(t, err, domain.ErrSessionBusy)

	require.NoError(t, store.FinishTurn(ctx, "abc", lease, domain.ChatTurn{Role: domain.RoleAssistant, Text: "hi there"}))
	require.False(t, mr.Exists(lockKey("abc")))

	turns, err := store.GetTranscript(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, []domain.ChatTurn{
		{Role: domain.RoleAssistant, Text: domain.Greeting},
		{Role: domain.RoleUser, Text: "hello"},
		{Role: domain.RoleAssistant, Text: "hi there"},
	}, turns)
	require.Equal(t, time.Hour, mr.TTL(turnsKey("abc")))

	prior, _, err = store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "pricing?"})
	require.NoError(t, err)
	require.Equal(t, turns, prior)
}

func TestRedisStore_AbandonedLockExpires(t *testing.T) {
	mr, store := setupRedis(t)
	ctx := context.Background()

	_, _, err := store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "hello"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	prior, _, err := store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "anyone?"})
	require.NoError(t, err)
	require.Len(t, prior, 2)
}

func TestRedisStore_LateFinishKeepsNewOwnersLock(t *testing.T) {
	mr, store := setupRedis(t)
	ctx := context.Background()

	_, leaseA, err := store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "user A"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, leaseB, err := store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "user B"})
	require.NoError(t, err)
	require.NotEqual(t, leaseA, leaseB)

	err = store.FinishTurn(ctx, "abc", leaseA, domain.ChatTurn{Role: domain.RoleAssistant, Text: "reply A"})
	require.ErrorIs(t, err, domain.ErrLeaseLost)

	_, _, err = store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "user C"})
	require.ErrorIs(t, err, domain.ErrSessionBusy, "B is still in flight")

	require.NoError(t, store.FinishTurn(ctx, "abc", leaseB, domain.ChatTurn{Role: domain.RoleAssistant, Text: "reply B"}))

	turns, err := store.GetTranscript(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, []domain.ChatTurn{
		{Role: domain.RoleAssistant, Text: domain.Greeting},
		{Role: domain.RoleUser, Text: "user A"},
		{Role: domain.RoleUser, Text: "user B"},
		{Role: domain.RoleAssistant, Text: "reply B"},
	}, turns)
	require.False(t, mr.Exists(lockKey("abc")))
}

func TestRedisStore_FinishAfterLeaseExpiredUnclaimed(t *testing.T) {
	mr, store := setupRedis(t)
	ctx := context.Background()

	_, lease, err := store.BeginTurn(ctx, "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "hello"})
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	err = store.FinishTurn(ctx, "abc", lease, domain.ChatTurn{Role: domain.RoleAssistant, Text: "late"})
	require.ErrorIs(t, err, domain.ErrSessionNotSending)
}

func TestRedisStore_FinishWithoutBegin(t *testing.T) {
	_, store := setupRedis(t)
	err := store.FinishTurn(context.Background(), "abc", "some-lease", domain.ChatTurn{Role: domain.RoleAssistant, Text: "x"})
	require.ErrorIs(t, err, domain.ErrSessionNotSending)
}

func TestRedisStore_UnknownSession(t *testing.T) {
	_, store := setupRedis(t)
	turns, err := store.GetTranscript(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, domain.GreetingTranscript(), turns)
}

func TestRedisStore_CorruptTurnReleasesLock(t *testing.T) {
	mr, store := setupRedis(t)
	_, err := mr.Lpush(turnsKey("abc"), "{not json")
	require.NoError(t, err)

	_, _, err = store.BeginTurn(context.Background(), "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "hi"})
	require.ErrorContains(t, err, "decode turn")
	require.False(t, mr.Exists(lockKey("abc")))
}

func TestRedisStore_EmptySessionID(t *testing.T) {
	_, store := setupRedis(t)
	_, _, err := store.BeginTurn(context.Background(), "", domain.ChatTurn{Role: domain.RoleUser, Text: "hi"})
	require.Error(t, err)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	mr, store := setupRedis(t)
	mr.Close()

	_, _, err := store.BeginTurn(context.Background(), "abc", domain.ChatTurn{Role: domain.RoleUser, Text: "hi"})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrSessionBusy)
}
