package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_Fixed(t *testing.T) {
	cfg := RetryConfig{Backoff: BackoffFixed, BaseDelay: 2 * time.Second}

	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 2*time.Second, BackoffDelay(cfg, attempt))
	}
}

func TestBackoffDelay_Linear(t *testing.T) {
	cfg := RetryConfig{Backoff: BackoffLinear, BaseDelay: 2 * time.Second}

	assert.Equal(t, 2*time.Second, BackoffDelay(cfg, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(cfg, 2))
	assert.Equal(t, 6*time.Second, BackoffDelay(cfg, 3))
}

func TestBackoffDelay_Exponential(t *testing.T) {
	cfg := RetryConfig{Backoff: BackoffExponential, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, BackoffDelay(cfg, i+1), "attempt %d", i+1)
	}
}

func TestBackoffDelay_ExponentialLargeAttempts(t *testing.T) {
	cfg := RetryConfig{Backoff: BackoffExponential, BaseDelay: time.Hour, MaxDelay: 24 * time.Hour}

	// Attempts far past the doubling range must clamp, never wrap negative
	for _, attempt := range []int{32, 64, 100} {
		d := BackoffDelay(cfg, attempt)
		assert.Equal(t, 24*time.Hour, d, "attempt %d", attempt)
		assert.Positive(t, d)
	}

	cfg = RetryConfig{Backoff: BackoffExponential, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	assert.Equal(t, 30*time.Second, BackoffDelay(cfg, 100))
}

func TestBackoffDelay_Jitter(t *testing.T) {
	cfg := RetryConfig{Backoff: BackoffFixed, BaseDelay: 10 * time.Second, Jitter: true}

	for i := 0; i < 50; i++ {
		d := BackoffDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.Less(t, d, 10*time.Second+time.Millisecond)
	}
}

func TestBackoffDelay_ZeroAttemptClamps(t *testing.T) {
	cfg := RetryConfig{Backoff: BackoffExponential, BaseDelay: time.Second}
	assert.Equal(t, time.Second, BackoffDelay(cfg, 0))
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{errors.New("connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("store unavailable"), true},
		{errors.New("validation failed: interval must be positive"), false},
		{errors.New("Invalid input: missing window"), false},
		{errors.New("service svc_1: not found"), false},
		{errors.New("authorization expired"), false},
		{errors.New("403 Forbidden"), false},
	}

	for _, tc := range tests {
		got := Recoverable(tc.err)
		assert.Equal(t, tc.want, got, "error %v", tc.err)
	}
}
