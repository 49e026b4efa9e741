package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"studio-agent/internal/domain"
)

const defaultSessionTTL = 24 * time.Hour

// finishScript appends the reply and drops the lock only while the lock
// still holds the caller's lease. Returns 1 on success, 0 when no lock is
// held and -1 when another turn owns it.
var finishScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if not owner then
	return 0
end
if owner ~= ARGV[1] then
	return -1
end
redis.call("RPUSH", KEYS[2], ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
redis.call("DEL", KEYS[1])
return 1
`)

// releaseScript deletes the lock only if it still holds the given lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps each session as a JSON list under chat:<id>:turns and the
// submit lock as chat:<id>:lock. The lock value is the owning turn's lease
// and expires after the lease duration so a crashed turn cannot wedge a
// session.
type RedisStore struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	lease time.Duration
}

// NewRedisStore wraps rdb. Non-positive ttl and lease fall back to 24h and 60s.
func NewRedisStore(rdb redis.Cmdable, ttl, lease time.Duration) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if lease <= 0 {
		lease = defaultLockLease
	}
	return &RedisStore{rdb: rdb, ttl: ttl, lease: lease}, nil
}

func turnsKey(sessionID string) string {
	return "chat:" + sessionID + ":turns"
}

func lockKey(sessionID string) string {
	return "chat:" + sessionID + ":lock"
}

func (s *RedisStore) BeginTurn(ctx context.Context, sessionID string, user domain.ChatTurn) ([]domain.ChatTurn, string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, "", errEmptySessionID
	}
	lease := uuid.NewString()
	acquired, err := s.rdb.SetNX(ctx, lockKey(sessionID), lease, s.lease).Result()
	if err != nil {
		return nil, "", fmt.Errorf("repository: BeginTurn lock: %w", err)
	}
	if !acquired {
		return nil, "", domain.ErrSessionBusy
	}

	prior, err := s.readTurns(ctx, sessionID)
	if err != nil {
		s.release(ctx, sessionID, lease)
		return nil, "", fmt.Errorf("repository: BeginTurn: %w", err)
	}

	var pending []domain.ChatTurn
	if len(prior) == 0 {
		prior = domain.GreetingTranscript()
		pending = append(pending, prior...)
	}
	pending = append(pending, user)

	if err := s.appendTurns(ctx, sessionID, pending); err != nil {
		s.release(ctx, sessionID, lease)
		return nil, "", fmt.Errorf("repository: BeginTurn: %w", err)
	}
	return prior, lease, nil
}

// FinishTurn appends reply and releases the lock in one script run, provided
// the lock still holds lease. A turn that was taken over gets
// domain.ErrLeaseLost and leaves the new owner's lock in place.
func (s *RedisStore) FinishTurn(ctx context.Context, sessionID, lease string, reply domain.ChatTurn) error {
	b, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("repository: FinishTurn: encode turn: %w", err)
	}
	res, err := finishScript.Run(ctx, s.rdb,
		[]string{lockKey(sessionID), turnsKey(sessionID)},
		lease, string(b), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("repository: FinishTurn: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return domain.ErrSessionNotSending
	default:
		return domain.ErrLeaseLost
	}
}

func (s *RedisStore) GetTranscript(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	turns, err := s.readTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: GetTranscript: %w", err)
	}
	if len(turns) == 0 {
		return domain.GreetingTranscript(), nil
	}
	return turns, nil
}

func (s *RedisStore) readTurns(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	raw, err := s.rdb.LRange(ctx, turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	turns := make([]domain.ChatTurn, 0, len(raw))
	for _, r := range raw {
		var t domain.ChatTurn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		role, ok := domain.NormalizeRole(string(t.Role))
		if !ok {
			return nil, fmt.Errorf("decode turn: unknown role %q", t.Role)
		}
		t.Role = role
		turns = append(turns, t)
	}
	return turns, nil
}

// appendTurns pushes turns and refreshes the sliding expiry in one MULTI.
func (s *RedisStore) appendTurns(ctx context.Context, sessionID string, turns []domain.ChatTurn) error {
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		values = append(values, string(b))
	}
	key := turnsKey(sessionID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turns: %w", err)
	}
	return nil
}

func (s *RedisStore) release(ctx context.Context, sessionID, lease string) {
	_ = releaseScript.Run(context.WithoutCancel(ctx), s.rdb, []string{lockKey(sessionID)}, lease).Err()
}
