package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"propertyhub/backend/internal/session/domain"
)

// Each session is a hash at <prefix>:rs:<digest>; <prefix>:ru:<userID> is the set of the
// user's digests. Empty revoked_at / replaced_by fields mean NULL. Keys carry no TTL.

const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "user_id", ARGV[2], "token_digest", ARGV[3], "session_nonce", ARGV[4],
  "issued_at", ARGV[5], "expires_at", ARGV[6], "revoked_at", "", "replaced_by", "",
  "user_agent", ARGV[7], "ip", ARGV[8])
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

// rotateSessionScript returns 1 on success, 0 when the old session is missing or revoked
// and -1 when the new digest already exists.
const rotateSessionScript = `
local revoked = redis.call("HGET", KEYS[1], "revoked_at")
if revoked ~= "" then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return -1
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "replaced_by", ARGV[4])
redis.call("HSET", KEYS[2],
  "id", ARGV[2], "user_id", ARGV[3], "token_digest", ARGV[4], "session_nonce", ARGV[5],
  "issued_at", ARGV[6], "expires_at", ARGV[7], "revoked_at", "", "replaced_by", "",
  "user_agent", ARGV[8], "ip", ARGV[9])
redis.call("SADD", KEYS[3], ARGV[4])
return 1
`

var rotateSessionLua = redis.NewScript(rotateSessionScript)

const revokeUserSessionsScript = `
local n = 0
for _, digest in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[2] .. digest
  if redis.call("HGET", key, "revoked_at") == "" then
    redis.call("HSET", key, "revoked_at", ARGV[1])
    n = n + 1
  end
end
return n
`

var revokeUserSessionsLua = redis.NewScript(revokeUserSessionsScript)

const revokeSessionScript = `
if redis.call("HGET", KEYS[1], "revoked_at") == "" then
  redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
  return 1
end
return 0
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// RedisRepository stores refresh sessions in Redis. Every mutation is a single Lua script,
// so it is atomic across processes sharing the same Redis.
type RedisRepository struct {
	redis   *redis.Client
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisRepository returns a session store using client under the key namespace prefix.
// Only single-node Redis is supported: the scripts touch keys across hash slots.
func NewRedisRepository(client *redis.Client, prefix string, timeout time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "propertyhub"
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &RedisRepository{redis: client, prefix: prefix, timeout: timeout, now: time.Now}
}

func (r *RedisRepository) sessionKeyPrefix() string { return r.prefix + ":rs:" }

func (r *RedisRepository) sessionKey(digest string) string { return r.sessionKeyPrefix() + digest }

func (r *RedisRepository) userKey(userID string) string { return r.prefix + ":ru:" + userID }

func (r *RedisRepository) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

// Create inserts an active session and returns its ID. An existing digest returns ErrIntegrity.
func (r *RedisRepository) Create(ctx context.Context, s *domain.RefreshSession) (string, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	ctx, cancel := r.detach(ctx)
	defer cancel()

	keys := []string{r.sessionKey(s.TokenDigest), r.userKey(s.UserID)}
	res, err := createSessionLua.Run(ctx, r.redis, keys, sessionArgs(s)...).Int64()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if res == 0 {
		return "", fmt.Errorf("%w: duplicate token digest", ErrIntegrity)
	}
	return s.ID, nil
}

// FindByDigest returns the session for digest, or nil if there is none.
func (r *RedisRepository) FindByDigest(ctx context.Context, digest string) (*domain.RefreshSession, error) {
	fields, err := r.redis.HGetAll(ctx, r.sessionKey(digest)).Result()
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeSession(fields)
}

// Rotate retires oldDigest and inserts next in one script.
func (r *RedisRepository) Rotate(ctx context.Context, oldDigest string, next *domain.RefreshSession) (bool, error) {
	if next.ID == "" {
		next.ID = uuid.New().String()
	}
	ctx, cancel := r.detach(ctx)
	defer cancel()

	keys := []string{r.sessionKey(oldDigest), r.sessionKey(next.TokenDigest), r.userKey(next.UserID)}
	args := append([]any{formatTime(r.now())}, sessionArgs(next)...)
	res, err := rotateSessionLua.Run(ctx, r.redis, keys, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("rotate session: %w", err)
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, fmt.Errorf("%w: duplicate token digest", ErrIntegrity)
	default:
		return false, nil
	}
}

// RevokeAllForUser revokes every active session of userID.
func (r *RedisRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.detach(ctx)
	defer cancel()

	n, err := revokeUserSessionsLua.Run(ctx, r.redis, []string{r.userKey(userID)}, formatTime(r.now()), r.sessionKeyPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}
	return n, nil
}

// RevokeByDigest revokes the session with digest if it is still active.
func (r *RedisRepository) RevokeByDigest(ctx context.Context, digest string) (bool, error) {
	ctx, cancel := r.detach(ctx)
	defer cancel()

	n, err := revokeSessionLua.Run(ctx, r.redis, []string{r.sessionKey(digest)}, formatTime(r.now())).Int64()
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return n == 1, nil
}

func sessionArgs(s *domain.RefreshSession) []any {
	return []any{
		s.ID, s.UserID, s.TokenDigest, s.SessionNonce,
		formatTime(s.IssuedAt), formatTime(s.ExpiresAt),
		s.Client.UserAgent, s.Client.IP,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeSession(f map[string]string) (*domain.RefreshSession, error) {
	s := &domain.RefreshSession{
		ID:           f["id"],
		UserID:       f["user_id"],
		TokenDigest:  f["token_digest"],
		SessionNonce: f["session_nonce"],
		Client:       domain.ClientContext{UserAgent: f["user_agent"], IP: f["ip"]},
	}
	var err error
	if s.IssuedAt, err = time.Parse(time.RFC3339Nano, f["issued_at"]); err != nil {
		return nil, fmt.Errorf("decode session issued_at: %w", err)
	}
	if s.ExpiresAt, err = time.Parse(time.RFC3339Nano, f["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode session expires_at: %w", err)
	}
	if v := f["revoked_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode session revoked_at: %w", err)
		}
		s.RevokedAt = &t
	}
	if v := f["replaced_by"]; v != "" {
		s.ReplacedBy = &v
	}
	return s, nil
}
