package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vigil:claim:"

// DefaultTTL bounds how long a crashed worker can block a session.
const DefaultTTL = 10 * time.Minute

// ErrAlreadyClaimed is returned when another worker holds the session.
var ErrAlreadyClaimed = errors.New("session already claimed")

// releaseScript deletes the key only when it still holds our token, so a
// worker whose claim expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ClaimGuard prevents concurrent or repeated evaluations of the same
// session when events are redelivered.
type ClaimGuard struct {
	redis *redis.Client
	ttl   time.Duration
}

// Claim is a held lock on one session.
type Claim struct {
	key   string
	token string
}

func NewClaimGuard(client *redis.Client, ttl time.Duration) *ClaimGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ClaimGuard{redis: client, ttl: ttl}
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string, ttl time.Duration) (*ClaimGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewClaimGuard(client, ttl), nil
}

// Claim takes the session with SET NX and the guard's TTL.
func (g *ClaimGuard) Claim(ctx context.Context, sessionID string) (*Claim, error) {
	c := &Claim{key: keyPrefix + sessionID, token: uuid.NewString()}
	ok, err := g.redis.SetNX(ctx, c.key, c.token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", sessionID, err)
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}
	return c, nil
}

// Release drops a claim so the session can be retried. Releasing an expired
// or foreign claim is a no-op.
func (g *ClaimGuard) Release(ctx context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, g.redis, []string{c.key}, c.token).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

func (g *ClaimGuard) Close() error {
	return g.redis.Close()
}
