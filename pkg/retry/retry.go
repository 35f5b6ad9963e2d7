// Package retry computes backoff delays and retry eligibility for both
// step-level and workflow-level retry budgets. All functions are pure; the
// executor and the step runner share them with independently configured
// budgets.
package retry

import "time"

// maxShift bounds the exponent so the doubling never overflows a Duration.
const maxShift = 32

// NextDelay returns the capped exponential backoff delay before the given
// attempt. Attempt numbers start at 1; values below 1 are treated as 1.
func NextDelay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}

	delay := base << shift
	if cap > 0 && delay > cap {
		return cap
	}

	return delay
}

// ShouldRetry reports whether another retry fits in the budget.
func ShouldRetry(currentCount, maxCount int) bool {
	return currentCount < maxCount
}

// Backoff bundles a base delay and a cap so callers can carry one configured
// policy around instead of two durations.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the backoff delay before the given attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	return NextDelay(attempt, b.Base, b.Cap)
}
