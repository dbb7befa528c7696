package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore holds streaming session slots in Redis hashes with Lua-script
// compare-and-swap transitions, making the registry safe across multiple
// gateway instances. Expiry is enforced lazily inside the scripts plus a key
// TTL, so ExpireStale has nothing to sweep.
type RedisStore struct {
	client    goredis.Cmdable
	keyPrefix string
	retention time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "creditgate:session:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// NewRedisStore creates a Redis-backed slot store. The client must be a
// connected *goredis.Client or *goredis.ClusterClient.
func NewRedisStore(client goredis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "creditgate:session:",
		retention: 2 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) slotKey(chatSessionID string) string {
	return s.keyPrefix + chatSessionID
}

// openScript installs a new open slot and returns the superseded open slot.
// KEYS[1] = slot hash key
// ARGV[1] = token, ARGV[2] = user_id, ARGV[3] = created_at unix,
// ARGV[4] = retention seconds
//
// Returns {prior_token, prior_user_id, prior_created_at} or an empty table.
var openScript = goredis.NewScript(`
local key = KEYS[1]
local prior = {}
local status = redis.call("HGET", key, "status")
if status == "open" then
    prior = redis.call("HMGET", key, "token", "user_id", "created_at")
end
redis.call("DEL", key)
redis.call("HSET", key,
    "token", ARGV[1],
    "user_id", ARGV[2],
    "status", "open",
    "created_at", ARGV[3],
    "total_tokens", "0",
    "content", "")
redis.call("EXPIRE", key, tonumber(ARGV[4]))
return prior
`)

// attachScript stores accumulated content on a matching open slot.
// KEYS[1] = slot hash key
// ARGV[1] = token, ARGV[2] = content, ARGV[3] = total_tokens
var attachScript = goredis.NewScript(`
local key = KEYS[1]
local status = redis.call("HGET", key, "status")
local token = redis.call("HGET", key, "token")
if status == "open" and token == ARGV[1] then
    redis.call("HSET", key, "content", ARGV[2], "total_tokens", ARGV[3])
end
return 1
`)

// finalizeScript attempts the Open -> Committed transition.
// KEYS[1] = slot hash key
// ARGV[1] = token, ARGV[2] = now unix, ARGV[3] = timeout seconds
//
// Returns {outcome, token, user_id, created_at, total_tokens, content}
// where outcome is one of "none", "committed", "duplicate", "mismatch",
// "expired".
var finalizeScript = goredis.NewScript(`
local key = KEYS[1]
local status = redis.call("HGET", key, "status")
if not status then
    return {"none"}
end
local fields = redis.call("HMGET", key, "token", "user_id", "created_at", "total_tokens", "content")
local token = fields[1]
local created_at = tonumber(fields[3])
local now = tonumber(ARGV[2])
local timeout = tonumber(ARGV[3])

if status == "open" and now - created_at > timeout then
    redis.call("HSET", key, "status", "expired")
    status = "expired"
end

if status == "open" then
    if token ~= ARGV[1] then
        redis.call("HSET", key, "status", "mismatched")
        return {"mismatch", fields[1], fields[2], fields[3], fields[4], fields[5]}
    end
    redis.call("HSET", key, "status", "committed")
    return {"committed", fields[1], fields[2], fields[3], fields[4], fields[5]}
end
if status == "committed" and token == ARGV[1] then
    return {"duplicate", fields[1], fields[2], fields[3], fields[4], fields[5]}
end
if status == "expired" and token == ARGV[1] then
    return {"expired", fields[1], fields[2], fields[3], fields[4], fields[5]}
end
return {"none"}
`)

// Open installs a new open slot, superseding any existing open slot.
func (s *RedisStore) Open(ctx context.Context, slot Slot) (*Slot, error) {
	res, errRun := openScript.Run(ctx, s.client,
		[]string{s.slotKey(slot.ChatSessionID)},
		slot.Token,
		strconv.FormatUint(slot.UserID, 10),
		strconv.FormatInt(slot.CreatedAt.Unix(), 10),
		int64(s.retention.Seconds()),
	).Slice()
	if errRun != nil {
		return nil, fmt.Errorf("session: redis open: %w", errRun)
	}
	if len(res) < 3 {
		return nil, nil
	}

	prior := Slot{
		ChatSessionID: slot.ChatSessionID,
		Status:        StatusExpired,
	}
	if v, ok := res[0].(string); ok {
		prior.Token = v
	}
	if v, ok := res[1].(string); ok {
		if id, errParse := strconv.ParseUint(v, 10, 64); errParse == nil {
			prior.UserID = id
		}
	}
	if v, ok := res[2].(string); ok {
		if ts, errParse := strconv.ParseInt(v, 10, 64); errParse == nil {
			prior.CreatedAt = time.Unix(ts, 0).UTC()
		}
	}
	return &prior, nil
}

// Attach records streamed content on the open slot with a matching token.
func (s *RedisStore) Attach(ctx context.Context, chatSessionID, token, content string, totalTokens int64) error {
	if errRun := attachScript.Run(ctx, s.client,
		[]string{s.slotKey(chatSessionID)},
		token, content, totalTokens,
	).Err(); errRun != nil {
		return fmt.Errorf("session: redis attach: %w", errRun)
	}
	return nil
}

// Finalize attempts the Open -> Committed transition atomically in Redis.
func (s *RedisStore) Finalize(ctx context.Context, chatSessionID, token string, now time.Time, timeout time.Duration) (Slot, Outcome, error) {
	res, errRun := finalizeScript.Run(ctx, s.client,
		[]string{s.slotKey(chatSessionID)},
		token,
		strconv.FormatInt(now.Unix(), 10),
		int64(timeout.Seconds()),
	).Slice()
	if errRun != nil {
		return Slot{}, OutcomeNone, fmt.Errorf("session: redis finalize: %w", errRun)
	}
	if len(res) == 0 {
		return Slot{}, OutcomeNone, nil
	}

	outcomeName, _ := res[0].(string)
	outcome := OutcomeNone
	status := StatusExpired
	switch outcomeName {
	case "committed":
		outcome, status = OutcomeCommitted, StatusCommitted
	case "duplicate":
		outcome, status = OutcomeDuplicate, StatusCommitted
	case "mismatch":
		outcome, status = OutcomeMismatch, StatusMismatched
	case "expired":
		outcome, status = OutcomeExpired, StatusExpired
	default:
		return Slot{}, OutcomeNone, nil
	}

	slot := Slot{ChatSessionID: chatSessionID, Status: status}
	if len(res) >= 6 {
		if v, ok := res[1].(string); ok {
			slot.Token = v
		}
		if v, ok := res[2].(string); ok {
			if id, errParse := strconv.ParseUint(v, 10, 64); errParse == nil {
				slot.UserID = id
			}
		}
		if v, ok := res[3].(string); ok {
			if ts, errParse := strconv.ParseInt(v, 10, 64); errParse == nil {
				slot.CreatedAt = time.Unix(ts, 0).UTC()
			}
		}
		if v, ok := res[4].(string); ok {
			if n, errParse := strconv.ParseInt(v, 10, 64); errParse == nil {
				slot.TotalTokens = n
			}
		}
		if v, ok := res[5].(string); ok {
			slot.Content = v
		}
	}
	return slot, outcome, nil
}

// ExpireStale is a no-op: the finalize script expires slots lazily and the
// key TTL bounds storage growth.
func (s *RedisStore) ExpireStale(context.Context, time.Time) ([]Slot, error) {
	return nil, nil
}
