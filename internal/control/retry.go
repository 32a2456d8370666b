package control

import (
	"context"
	"time"
)

// Retrier re-invokes a call whose textual answer is transient.
type Retrier struct {
	Policy      Policy
	IsTransient func(answer string) bool
	// Sleep defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, answer string)
}

// Do returns the first non-transient answer, or the last answer once retries
// are exhausted or ctx is done.
func (r Retrier) Do(ctx context.Context, invoke func(context.Context) string) string {
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	answer := invoke(ctx)
	for attempts := 1; r.IsTransient != nil && r.IsTransient(answer) && ShouldRetry(r.Policy, attempts); attempts++ {
		wait := RetryBackoff(r.Policy, attempts)
		if r.OnRetry != nil {
			r.OnRetry(attempts, wait, answer)
		}
		if err := sleep(ctx, wait); err != nil {
			return answer
		}
		answer = invoke(ctx)
	}
	return answer
}

func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
