package parser

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/telegram"
)

// BotPool hands out bot credentials round-robin.
// *telegram.CredentialPool implements it.
type BotPool interface {
	Len() int
	NextBot() (telegram.Credential, error)
}

// RotatingRetry retries a network call with the next bot token each time
// it hits a rate limit, once per configured token.
type RotatingRetry struct {
	pool BotPool
	log  *logger.Logger
}

// NewRotatingRetry creates a retry policy over a bot pool.
func NewRotatingRetry(pool BotPool, log *logger.Logger) *RotatingRetry {
	if log == nil {
		log = logger.Get()
	}
	return &RotatingRetry{pool: pool, log: log.Component("rotating_retry")}
}

// Do calls fn with a fresh bot credential per attempt. Only rate limit
// errors are retried; when every token is exhausted the last rate limit
// error is returned with its wait.
func (r *RotatingRetry) Do(ctx context.Context, fn func(ctx context.Context, cred telegram.Credential) error) error {
	attempts := r.pool.Len()
	if attempts == 0 {
		return fmt.Errorf("%w: no bot tokens", telegram.ErrNotConfigured)
	}

	attempt := 0
	op := func() error {
		attempt++
		cred, err := r.pool.NextBot()
		if err != nil {
			return backoff.Permanent(err)
		}

		err = fn(ctx, cred)
		if err == nil {
			return nil
		}
		rl, ok := telegram.AsRateLimit(err)
		if !ok {
			return backoff.Permanent(err)
		}
		r.log.Warn().
			Int("attempt", attempt).
			Int("tokens", attempts).
			Dur("wait", rl.Wait).
			Msg("bot token rate limited, rotating")
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(op, policy)
}
