package control

import (
	"fmt"
	"time"
)

// Policy defines control-plane limits and retry behavior.
type Policy struct {
	MaxTurns    int
	MaxWallTime time.Duration
	// MaxTokens caps the estimated size of one user message. Zero disables the check.
	MaxTokens  int
	MaxRetries int
	RetryBase  time.Duration
}

// DefaultPolicy returns the default turn policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxTurns:    8,
		MaxWallTime: 120 * time.Second,
		MaxTokens:   1000,
		MaxRetries:  3,
		RetryBase:   2 * time.Second,
	}
}

// LimitType identifies which limit is reached.
type LimitType string

const (
	LimitTurns      LimitType = "max_turns"
	LimitWallTime   LimitType = "max_wall_time_seconds"
	LimitTokens     LimitType = "max_input_tokens"
	LimitNoProgress LimitType = "no_progress"
)

// LimitError indicates a run limit was reached.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
}

// CheckTurnLimit validates turn usage against policy.
func CheckTurnLimit(p Policy, usedTurns int) error {
	if p.MaxTurns <= 0 || usedTurns >= p.MaxTurns {
		return &LimitError{Type: LimitTurns, Value: int64(usedTurns), Threshold: int64(p.MaxTurns)}
	}
	return nil
}

// CheckWallTime validates elapsed time against policy.
func CheckWallTime(p Policy, startedAt time.Time, now time.Time) error {
	limit := p.MaxWallTime
	if limit <= 0 {
		return &LimitError{Type: LimitWallTime, Value: 0, Threshold: int64(limit.Seconds())}
	}
	elapsed := now.Sub(startedAt)
	if elapsed > limit {
		return &LimitError{
			Type:      LimitWallTime,
			Value:     int64(elapsed.Seconds()),
			Threshold: int64(limit.Seconds()),
		}
	}
	return nil
}

// CheckTokenLimit validates an estimated token count against policy.
func CheckTokenLimit(p Policy, tokens int) error {
	if p.MaxTokens <= 0 {
		return nil
	}
	if tokens > p.MaxTokens {
		return &LimitError{Type: LimitTokens, Value: int64(tokens), Threshold: int64(p.MaxTokens)}
	}
	return nil
}

// EstimateTokens approximates a token count as a quarter of the rune count.
func EstimateTokens(text string) int {
	chars := len([]rune(text))
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}

// RetryBackoff scales RetryBackoffSeconds by the policy base, capped at 30s.
func RetryBackoff(p Policy, attempt int) time.Duration {
	base := p.RetryBase
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(RetryBackoffSeconds(attempt)) * base
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// ShouldRetry returns whether a failed attempt should be retried.
func ShouldRetry(p Policy, attempts int) bool {
	return attempts <= p.MaxRetries
}

// NoProgress returns whether the same fingerprint repeats k times.
func NoProgress(lastFingerprints []string, k int) bool {
	if k <= 1 || len(lastFingerprints) < k {
		return false
	}
	ref := lastFingerprints[len(lastFingerprints)-1]
	for i := len(lastFingerprints) - k; i < len(lastFingerprints)-1; i++ {
		if lastFingerprints[i] != ref {
			return false
		}
	}
	return true
}
