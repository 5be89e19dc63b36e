// Package ratelimit counts offenses per source address in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Offense kinds with their limits.
const (
	OffenseLogin             = "login"
	OffenseEmailVerification = "email_verification"

	LoginLimit             = 30
	EmailVerificationLimit = 5
)

const keyPrefix = "offense"

// offenseScript increments the counter and starts the TTL only when the key
// is created, so the window is fixed from the first offense.
var offenseScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RejectionRecorder observes rejected requests.
type RejectionRecorder interface {
	RateLimited(offense string)
}

// Limiter enforces fixed-window offense counters.
type Limiter struct {
	client  redis.Scripter
	expiry  time.Duration
	metrics RejectionRecorder
	logger  *slog.Logger
}

// New constructs a Limiter. expiry is how long an offense record lives.
func New(client redis.Scripter, expiry time.Duration, metrics RejectionRecorder, logger *slog.Logger) *Limiter {
	if expiry <= 0 {
		expiry = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{client: client, expiry: expiry, metrics: metrics, logger: logger}
}

// Check records one offense of kind from ip and fails with TooManyRequests
// once more than limit offenses fall inside the current window.
func (l *Limiter) Check(ctx context.Context, ip, kind string, limit int) error {
	if limit < 1 {
		return shared.TooManyRequests("too many requests")
	}
	count, err := offenseScript.Run(ctx, l.client, []string{Key(ip, kind)}, l.expiry.Milliseconds()).Int64()
	if err != nil {
		return shared.Internal(err, "count offense")
	}
	if count > int64(limit) {
		if l.metrics != nil {
			l.metrics.RateLimited(kind)
		}
		return shared.TooManyRequests("too many requests, try again later")
	}
	return nil
}

// Middleware rejects requests from addresses that exhausted kind.
func (l *Limiter) Middleware(kind string, limit int, responder httpx.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if err := l.Check(r.Context(), ip, kind, limit); err != nil {
				if shared.IsKind(err, shared.KindTooManyRequests) {
					l.logger.Warn("rate limited", slog.String("offense", kind), slog.String("ip", ip))
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", l.expiry.Seconds()))
				}
				responder.RespondError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Key is the Redis key of an offense record.
func Key(ip, kind string) string {
	return keyPrefix + ":" + kind + ":" + ip
}

// ClientIP returns the request's source address without port. RemoteAddr is
// expected to be rewritten by middleware.RealIP upstream.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
