package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/health777/health777/internal/logging"
)

const (
	rateLimitPrefix = "rl:v1:"

	// Local limiters idle for this many windows are dropped.
	localIdleWindows = 10
)

// RateLimit caps requests per phone number (or client IP when the body names
// none) to limit per window. Counters live in Redis so every instance shares
// them; without Redis, or when it fails, a process-local token bucket is used.
func RateLimit(cache *redis.Client, scope string, limit int, window time.Duration, logger *slog.Logger) fiber.Handler {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	local := newLocalLimiter(limit, window)

	return func(c *fiber.Ctx) error {
		subject := limitSubject(c)
		now := time.Now()

		var allowed bool
		if cache != nil {
			ok, err := allowRedis(c.UserContext(), cache, rateLimitPrefix+scope+":"+subject, limit, window)
			if err != nil {
				logger.Warn("rate limit store unavailable, using local limiter", slog.String("scope", scope), slog.Any("error", err))
				allowed = local.allow(subject, now)
			} else {
				allowed = ok
			}
		} else {
			allowed = local.allow(subject, now)
		}

		if !allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window/time.Second)))
			return fiber.NewError(fiber.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}

// incrWindow bumps the counter and attaches the window TTL in one step. A key
// left without a TTL is repaired on its next hit.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

func allowRedis(ctx context.Context, cache *redis.Client, key string, limit int, window time.Duration) (bool, error) {
	count, err := incrWindow.Run(ctx, cache, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

// limitSubject picks the phone number a request is about.
func limitSubject(c *fiber.Ctx) string {
	var body struct {
		Phone    string `json:"phone"`
		NewPhone string `json:"new_phone"`
	}
	_ = c.BodyParser(&body)
	if phone := strings.TrimSpace(body.Phone); phone != "" {
		return phone
	}
	if phone := strings.TrimSpace(body.NewPhone); phone != "" {
		return phone
	}
	return "ip:" + c.IP()
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type localLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	entries map[string]*localEntry
	swept   time.Time
}

func newLocalLimiter(limit int, window time.Duration) *localLimiter {
	return &localLimiter{
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window * localIdleWindows,
		entries: make(map[string]*localEntry),
	}
}

func (l *localLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.idle {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > l.idle {
				delete(l.entries, k)
			}
		}
		l.swept = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
