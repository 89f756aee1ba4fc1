// Package retry is the single bounded-retry policy applied to every external
// call: store queries, LLM completions, RAG fetches, embeddings, image
// generation and uploads.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/logger"
)

// Policy sleeps BaseDelay + U(0, Jitter) after the first failure and
// multiplies the base by Factor after each further one.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Jitter      time.Duration
}

func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Factor: 2, Jitter: 500 * time.Millisecond}
}

// WithBase returns a copy using a different base delay and jitter. The image
// upload step retries faster than generation.
func (p Policy) WithBase(base, jitter time.Duration) Policy {
	p.BaseDelay = base
	p.Jitter = jitter
	return p
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// BackOff builds the backoff.BackOff for one call, bounded by ctx.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var b backoff.BackOff = &jitteredBackOff{policy: p}
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, returns a permanent error, runs out of
// attempts or ctx ends. The last error is returned.
func (p Policy) Do(ctx context.Context, log *logger.Logger, name string, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, log, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, log *logger.Logger, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		return op(ctx)
	}
	notify := func(err error, next time.Duration) {
		if log == nil {
			return
		}
		log.WithFields(logrus.Fields{
			"operation": name,
			"attempt":   attempt,
			"retry_in":  next.String(),
			"error":     err.Error(),
		}).Info("attempt failed, retrying")
	}
	res, err := backoff.RetryNotifyWithData(operation, p.BackOff(ctx), notify)
	if err != nil && log != nil {
		log.WithFields(logrus.Fields{
			"operation": name,
			"attempts":  attempt,
		}).WithField("error", err.Error()).Error("all attempts failed")
	}
	return res, err
}

type jitteredBackOff struct {
	policy Policy
	delay  time.Duration
}

func (b *jitteredBackOff) Reset() {
	b.delay = b.policy.BaseDelay
}

func (b *jitteredBackOff) NextBackOff() time.Duration {
	d := b.delay
	if b.policy.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(b.policy.Jitter)))
	}
	factor := b.policy.Factor
	if factor < 1 {
		factor = 1
	}
	b.delay = time.Duration(float64(b.delay) * factor)
	return d
}
