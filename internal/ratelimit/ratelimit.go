// Package ratelimit guards shared OCR backends with a request-per-minute
// budget combined with a concurrency ceiling. Both must be satisfied before a
// caller may issue a request.
package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var ErrAcquireTimeout = errors.New("rate limiter acquire timed out")

type Limiter struct {
	limiter        *rate.Limiter
	sem            *semaphore.Weighted
	acquireTimeout time.Duration
}

// New builds a limiter allowing maxRPM requests per minute with at most
// maxConcurrent in flight. Acquire gives up after acquireTimeout.
func New(maxRPM, maxConcurrent int, acquireTimeout time.Duration) *Limiter {
	return &Limiter{
		limiter:        rate.NewLimiter(rate.Limit(float64(maxRPM)/60.0), maxConcurrent),
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		acquireTimeout: acquireTimeout,
	}
}

// Acquire blocks until both a concurrency slot and a rate token are held, or
// the timeout passes. On success the caller must invoke the returned release
// function exactly once when the request finishes.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.acquireTimeout)
	defer cancel()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrAcquireTimeout
		}
		return nil, err
	}

	if err := l.limiter.Wait(ctx); err != nil {
		l.sem.Release(1)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrAcquireTimeout
		}
		return nil, err
	}

	return func() { l.sem.Release(1) }, nil
}
