package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is the shared exponential-backoff helper used by both C2
// (fixed 0.5s/1.0s/2.0s schedule) and C3 (1s..30s capped, jittered). A
// schedule is supplied explicitly rather than duplicated per caller (§7).
type Backoff struct {
	Delays []time.Duration
	Jitter time.Duration
}

// Sequencer returns the fixed three-step schedule C2 uses for cancel and
// submit retries (§4.2: "delays ~0.5s, 1.0s, 2.0s").
func Sequencer() Backoff {
	return Backoff{Delays: []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}}
}

// Monitor returns C3's capped, jittered schedule for transient polling
// errors (§4.3.4: "retry with exponential backoff, capped at 30s").
func Monitor() Backoff {
	delays := make([]time.Duration, 0, 8)
	d := time.Second
	for d <= 30*time.Second {
		delays = append(delays, d)
		d *= 2
	}
	delays = append(delays, 30*time.Second)
	return Backoff{Delays: delays, Jitter: 250 * time.Millisecond}
}

// Delay returns the delay for the given zero-based attempt, clamped to
// the schedule's last entry and with jitter added if configured.
func (b Backoff) Delay(attempt int) time.Duration {
	if len(b.Delays) == 0 {
		return 0
	}
	idx := attempt
	if idx >= len(b.Delays) {
		idx = len(b.Delays) - 1
	}
	d := b.Delays[idx]
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}

// Sleep blocks for the computed delay or until ctx is done, whichever
// comes first.
func (b Backoff) Sleep(ctx context.Context, attempt int) error {
	select {
	case <-time.After(b.Delay(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs op up to maxRetries+1 times, sleeping the schedule's delay
// between attempts, and surfaces the last error on exhaustion — C2's
// `retry_with_backoff` (§4.2).
func (b Backoff) Retry(ctx context.Context, maxRetries int, op func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := b.Sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
