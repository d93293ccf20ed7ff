package resilience

import "time"

// Default reconnection parameters. A constant delay with no retry cap is the
// contract of the live channel unless configured otherwise.
const (
	DefaultReconnectDelay = 5 * time.Second
	defaultMultiplier     = 1.0
)

// ReconnectPolicy computes the delay before each reconnection attempt.
//
// The zero value retries forever with a constant [DefaultReconnectDelay].
// Setting Multiplier > 1 turns it into exponential backoff capped at
// MaxDelay; setting MaxRetries > 0 bounds the number of attempts.
type ReconnectPolicy struct {
	// Delay is the wait before the first reconnection attempt.
	// Defaults to 5s if zero.
	Delay time.Duration

	// Multiplier scales the delay after every failed attempt. Values ≤ 1
	// keep the delay constant.
	Multiplier float64

	// MaxDelay caps the delay when Multiplier > 1. Zero means no cap.
	MaxDelay time.Duration

	// MaxRetries is the maximum number of reconnection attempts. Zero means
	// unbounded.
	MaxRetries int
}

// Next returns the delay before reconnection attempt number attempt
// (1-based) and whether that attempt should be made at all.
func (p ReconnectPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if p.MaxRetries > 0 && attempt > p.MaxRetries {
		return 0, false
	}

	delay := p.Delay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = defaultMultiplier
	}

	for i := 1; i < attempt && mult > 1; i++ {
		delay = time.Duration(float64(delay) * mult)
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}

// Unbounded reports whether the policy retries forever.
func (p ReconnectPolicy) Unbounded() bool {
	return p.MaxRetries <= 0
}
