package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pettrack-auth/internal/kv"
)

const (
	defaultThreshold   = 5
	defaultWindow      = time.Minute
	defaultBanDuration = 10 * time.Minute

	attemptsPrefix = "rate_limit:attempts:"
	banPrefix      = "rate_limit:ban:"
	emailPrefix    = "rate_limit:email:"
)

var ErrRateLimited = errors.New("too many requests")

// LimitedError is returned for both an existing ban and a freshly crossed
// threshold. It matches ErrRateLimited under errors.Is.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return ErrRateLimited.Error()
}

func (e *LimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

type Limiter struct {
	rdb         redis.Cmdable
	threshold   int64
	window      time.Duration
	banDuration time.Duration
	onBan       func(ip string)
}

func NewLimiter(rdb redis.Cmdable) *Limiter {
	return &Limiter{
		rdb:         rdb,
		threshold:   defaultThreshold,
		window:      defaultWindow,
		banDuration: defaultBanDuration,
	}
}

func (l *Limiter) WithPolicy(threshold int, window, banDuration time.Duration) *Limiter {
	if threshold > 0 {
		l.threshold = int64(threshold)
	}
	if window > 0 {
		l.window = window
	}
	if banDuration > 0 {
		l.banDuration = banDuration
	}
	return l
}

// OnBan registers a hook called after an IP is banned.
func (l *Limiter) OnBan(fn func(ip string)) *Limiter {
	l.onBan = fn
	return l
}

func (l *Limiter) IsBanned(ctx context.Context, ip string) (bool, error) {
	n, err := l.rdb.Exists(ctx, banPrefix+ip).Result()
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	return n > 0, nil
}

// RecordAttempt increments the IP's counter. Only the first increment of a
// window sets the expiry, so later attempts never extend it.
func (l *Limiter) RecordAttempt(ctx context.Context, ip string) (int64, error) {
	count, err := kv.IncrWithin(ctx, l.rdb, attemptsPrefix+ip, l.window)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return count, nil
}

func (l *Limiter) Ban(ctx context.Context, ip string, duration time.Duration) error {
	pipe := l.rdb.TxPipeline()
	pipe.Set(ctx, banPrefix+ip, "banned", duration)
	pipe.Del(ctx, attemptsPrefix+ip)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ban ip: %w", err)
	}
	if l.onBan != nil {
		l.onBan(ip)
	}
	return nil
}

// CheckAndEnforce is the login gate. A banned IP is rejected without
// touching its counter; the attempt that reaches the threshold bans the IP
// and is itself rejected.
func (l *Limiter) CheckAndEnforce(ctx context.Context, ip string) error {
	banned, err := l.IsBanned(ctx, ip)
	if err != nil {
		return err
	}
	if banned {
		return &LimitedError{RetryAfter: l.banRemaining(ctx, ip)}
	}

	count, err := l.RecordAttempt(ctx, ip)
	if err != nil {
		return err
	}
	if count >= l.threshold {
		if err := l.Ban(ctx, ip, l.banDuration); err != nil {
			return err
		}
		return &LimitedError{RetryAfter: l.banDuration}
	}
	return nil
}

func (l *Limiter) EmailCooldownActive(ctx context.Context, email string) (bool, error) {
	n, err := l.rdb.Exists(ctx, emailPrefix+normalizeEmail(email)).Result()
	if err != nil {
		return false, fmt.Errorf("check email cooldown: %w", err)
	}
	return n > 0, nil
}

func (l *Limiter) SetEmailCooldown(ctx context.Context, email string, duration time.Duration) error {
	if err := l.rdb.Set(ctx, emailPrefix+normalizeEmail(email), "sent", duration).Err(); err != nil {
		return fmt.Errorf("set email cooldown: %w", err)
	}
	return nil
}

func (l *Limiter) banRemaining(ctx context.Context, ip string) time.Duration {
	ttl, err := l.rdb.TTL(ctx, banPrefix+ip).Result()
	if err != nil || ttl <= 0 {
		return l.banDuration
	}
	return ttl
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ClientIP returns the first X-Forwarded-For hop, falling back to the host
// part of RemoteAddr.
func ClientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		first, _, _ := strings.Cut(xForwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}
