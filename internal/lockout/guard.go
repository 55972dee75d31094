// Package lockout implements brute-force throttling on top of redis.
//
// Every verification context (login, login second factor, reset second
// factor) keys its failures under its own namespace so that bad codes in
// one flow cannot amplify a lockout in another.
package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// NamespaceLogin guards password attempts.
	NamespaceLogin = "login"
	// NamespaceLogin2FA guards second-factor codes during login.
	NamespaceLogin2FA = "2fa"
	// NamespaceReset2FA guards second-factor codes during a password reset.
	NamespaceReset2FA = "reset-2fa"
)

// Guard counts verification failures per identifier and trips a
// self-expiring lock once the threshold is reached.
type Guard struct {
	redis        *redis.Client
	maxAttempts  int
	window       time.Duration
	lockDuration time.Duration
	log          *zap.Logger
}

func NewGuard(client *redis.Client, maxAttempts int, window, lockDuration time.Duration, log *zap.Logger) *Guard {
	return &Guard{
		redis:        client,
		maxAttempts:  maxAttempts,
		window:       window,
		lockDuration: lockDuration,
		log:          log,
	}
}

// Key builds the context-qualified identifier for a namespace and subject.
func Key(namespace, subject string) string {
	return namespace + ":" + subject
}

// CheckLocked reports whether the identifier is currently locked out.
// A counter-store failure is treated as "not locked" and logged; admission
// on a degraded counter store is preferable to locking everyone out.
func (g *Guard) CheckLocked(ctx context.Context, identifier string) bool {
	exists, err := g.redis.Exists(ctx, lockKey(identifier)).Result()
	if err != nil {
		g.log.Warn("lockout check failed, assuming not locked",
			zap.String("identifier", identifier),
			zap.Error(err))
		return false
	}
	return exists > 0
}

// RecordFailure atomically increments the attempt counter. The first
// failure starts the lockout window; reaching the threshold sets a lock
// entry with its own TTL. Two concurrent threshold-crossers may both set
// the lock, which is idempotent.
func (g *Guard) RecordFailure(ctx context.Context, identifier string) error {
	attempts, err := g.redis.Incr(ctx, attemptKey(identifier)).Result()
	if err != nil {
		return fmt.Errorf("increment attempts for %s: %w", identifier, err)
	}

	if attempts == 1 {
		if err := g.redis.Expire(ctx, attemptKey(identifier), g.window).Err(); err != nil {
			return fmt.Errorf("set attempt window for %s: %w", identifier, err)
		}
	}

	if attempts >= int64(g.maxAttempts) {
		if err := g.redis.Set(ctx, lockKey(identifier), "locked", g.lockDuration).Err(); err != nil {
			return fmt.Errorf("set lock for %s: %w", identifier, err)
		}
		g.log.Warn("lockout tripped",
			zap.String("identifier", identifier),
			zap.Int64("attempts", attempts))
	}

	return nil
}

// Clear removes the attempt counter after a successful verification. An
// already-tripped lock is left alone; it expires only by its own TTL.
func (g *Guard) Clear(ctx context.Context, identifier string) error {
	if err := g.redis.Del(ctx, attemptKey(identifier)).Err(); err != nil {
		return fmt.Errorf("clear attempts for %s: %w", identifier, err)
	}
	return nil
}

func attemptKey(identifier string) string {
	return "lockout:" + identifier
}

func lockKey(identifier string) string {
	return "lockout-lock:" + identifier
}
