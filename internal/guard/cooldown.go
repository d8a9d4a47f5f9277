package guard

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"wa_guard_bot/internal/logging"
)

// Gate rate-limits promote attempts for a group member, preventing
// promote -> demote-notification -> promote feedback loops. The key always
// includes the group id, so the same member can be restored independently in
// different groups.
type Gate interface {
	// Allow reports whether a promote for the member may proceed now and, if
	// so, opens a new cooldown window.
	Allow(ctx context.Context, groupID, memberID string) bool
}

// MemoryGate is an in-process cooldown gate.
type MemoryGate struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryGate constructs a MemoryGate with the given cooldown window.
func NewMemoryGate(window time.Duration) *MemoryGate {
	return &MemoryGate{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Allow implements Gate.
func (g *MemoryGate) Allow(_ context.Context, groupID, memberID string) bool {
	if g == nil || g.window <= 0 {
		return true
	}

	key := cooldownKey(groupID, memberID)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.seen[key]; ok && now.Sub(last) < g.window {
		return false
	}

	for k, t := range g.seen {
		if now.Sub(t) >= g.window {
			delete(g.seen, k)
		}
	}

	g.seen[key] = now
	return true
}

type redisSetter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisGate is a cooldown gate shared across processes via Redis SET NX with
// expiry. A Redis failure fails open: enforcement availability matters more
// than suppressing a duplicate promote.
type RedisGate struct {
	client redisSetter
	window time.Duration
	logger *logrus.Entry
}

// NewRedisGate constructs a RedisGate on the provided client.
func NewRedisGate(client redisSetter, window time.Duration, logger *logrus.Entry) *RedisGate {
	if logger == nil {
		logger = logging.Logger()
	}

	return &RedisGate{
		client: client,
		window: window,
		logger: logger,
	}
}

// Allow implements Gate.
func (g *RedisGate) Allow(ctx context.Context, groupID, memberID string) bool {
	if g == nil || g.client == nil || g.window <= 0 {
		return true
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ok, err := g.client.SetNX(ctx, cooldownKey(groupID, memberID), 1, g.window).Result()
	if err != nil {
		logging.WithContext(g.logger, logging.Context{
			Event:    "cooldown_redis_error",
			ChatID:   groupID,
			MemberID: memberID,
		}).WithError(err).Warn("cooldown gate unavailable, allowing promote")
		return true
	}

	return ok
}

func cooldownKey(groupID, memberID string) string {
	return "antidemote:cooldown:" + groupID + ":" + memberID
}
