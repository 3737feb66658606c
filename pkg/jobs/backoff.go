package jobs

import (
	"math/rand"
	"regexp"
	"time"
)

// nonRecoverablePattern matches error messages that must never be retried
var nonRecoverablePattern = regexp.MustCompile(`(?i)validation|invalid input|authorization|not found|forbidden`)

// Recoverable classifies an error for the retry policy. Validation,
// authorization and not-found failures short-circuit retries.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	return !nonRecoverablePattern.MatchString(err.Error())
}

// BackoffDelay computes the delay before the next attempt. attempt is the
// attempt that just failed, starting at 1.
//
//	fixed:       base
//	linear:      base * attempt
//	exponential: min(base * 2^(attempt-1), max)
//
// Jitter multiplies the delay by a uniform factor in [0.5, 1.0).
func BackoffDelay(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch cfg.Backoff {
	case BackoffFixed:
		delay = cfg.BaseDelay
	case BackoffLinear:
		delay = cfg.BaseDelay * time.Duration(attempt)
	default: // exponential
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		delay = cfg.BaseDelay << shift
		if delay>>shift != cfg.BaseDelay || delay <= 0 {
			// shift overflowed the duration range
			delay = cfg.MaxDelay
			if delay <= 0 {
				delay = cfg.BaseDelay
			}
		}
	}

	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}
