package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay_Exponential(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	cap := 10 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, NextDelay(tc.attempt, base, cap), "attempt %d", tc.attempt)
	}
}

func TestNextDelay_Cap(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2*time.Second, NextDelay(30, time.Second, 2*time.Second))
}

func TestNextDelay_LargeAttemptDoesNotOverflow(t *testing.T) {
	t.Parallel()

	delay := NextDelay(1_000_000, time.Second, time.Minute)
	assert.Equal(t, time.Minute, delay)
}

func TestNextDelay_ZeroBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), NextDelay(3, 0, time.Minute))
}

func TestNextDelay_AttemptBelowOne(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, NextDelay(0, time.Second, time.Minute))
	assert.Equal(t, time.Second, NextDelay(-5, time.Second, time.Minute))
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	assert.True(t, ShouldRetry(0, 3))
	assert.True(t, ShouldRetry(2, 3))
	assert.False(t, ShouldRetry(3, 3))
	assert.False(t, ShouldRetry(4, 3))
	assert.False(t, ShouldRetry(0, 0))
}

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 50 * time.Millisecond, Cap: time.Second}

	assert.Equal(t, 50*time.Millisecond, b.Delay(1))
	assert.Equal(t, 100*time.Millisecond, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(20))
}
