package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/John-Swindell/data-engineering/internal/observability"
)

// ErrRateLimited marks a transient provider rate limit (an HTTP 429
// equivalent). It is the only failure class worth retrying; everything else
// is permanent for the call that produced it.
var ErrRateLimited = errors.New("rate limited (429)")

// RetryPolicy retries rate-limited calls with a fixed cooldown long enough
// to clear a typical provider window. Non-transient failures are returned
// immediately without a retry.
type RetryPolicy struct {
	MaxAttempts int
	Cooldown    time.Duration
	Metrics     *observability.Metrics
}

// DefaultRetryPolicy mirrors the provider windows this pipeline talks to:
// three attempts with a cooldown just past the common one-minute window.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Cooldown: 61 * time.Second}
}

// Do runs fn up to MaxAttempts times. Between attempts that failed with
// ErrRateLimited it waits the cooldown, honoring ctx cancellation. The
// wrapped final error still matches ErrRateLimited via errors.Is.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			p.Metrics.RecordRetryWait()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Cooldown):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrRateLimited) {
			return lastErr
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}

// Pacer inserts a politeness delay between successive calls to one provider,
// independent of the retry policy. It is safe for concurrent use; callers
// sharing a provider share its pacer.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewPacer creates a pacer enforcing at least interval between calls.
// A zero interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Wait blocks until the politeness window has passed or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.interval <= 0 {
		return nil
	}

	p.mu.Lock()
	now := time.Now()
	wait := p.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	p.next = now.Add(wait + p.interval)
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
