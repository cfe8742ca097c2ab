package internal

import (
	"sync"
	"time"
)

// UnlimitedCreditsPerMinute is the rate from which a limiter is not created at all.
const UnlimitedCreditsPerMinute = 1_000_000

// RateLimiter is a token bucket. Credits accumulate at creditsPerSecond up to
// maxBalance and every admitted unit of work spends cost credits.
//
// A nil *RateLimiter admits everything.
type RateLimiter struct {
	// Credits added per elapsed second.
	creditsPerSecond float64

	// Upper bound of balance.
	maxBalance float64

	// Current credits, always within [0, maxBalance].
	balance float64

	// Stores the time of the last refill.
	lastTick time.Time

	clock Clock

	mu sync.Mutex
}

// NewRateLimiter returns a limiter whose bucket starts full.
func NewRateLimiter(creditsPerSecond, maxBalance float64, clock Clock) *RateLimiter {
	if clock == nil {
		clock = DefaultClock{}
	}
	if maxBalance < 0 {
		maxBalance = 0
	}
	return &RateLimiter{
		creditsPerSecond: creditsPerSecond,
		maxBalance:       maxBalance,
		balance:          maxBalance,
		lastTick:         clock.Now(),
		clock:            clock,
	}
}

// NewPerMinuteRateLimiter converts a per minute rate into a limiter. Rates of
// UnlimitedCreditsPerMinute and above return nil so callers skip the check.
func NewPerMinuteRateLimiter(creditsPerMinute float64, clock Clock) *RateLimiter {
	if creditsPerMinute >= UnlimitedCreditsPerMinute {
		return nil
	}
	creditsPerSecond := creditsPerMinute / 60
	return NewRateLimiter(creditsPerSecond, maxBalanceFor(creditsPerSecond), clock)
}

func maxBalanceFor(creditsPerSecond float64) float64 {
	switch {
	case creditsPerSecond <= 0:
		return 0
	case creditsPerSecond < 1:
		return 1
	default:
		return creditsPerSecond
	}
}

// CheckCredit refills the bucket for the time elapsed since the last call and
// spends cost credits if they are available.
func (r *RateLimiter) CheckCredit(cost float64) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refreshBalanceLocked(r.clock.Now())

	if r.balance >= cost {
		r.balance -= cost
		return true
	}
	return false
}

// refreshBalanceLocked refreshes the balance considering elapsed time.
// It is assumed the lock is held when calling this.
func (r *RateLimiter) refreshBalanceLocked(now time.Time) {
	elapsed := now.Sub(r.lastTick)
	if elapsed <= 0 {
		return
	}
	r.lastTick = now
	r.balance += elapsed.Seconds() * r.creditsPerSecond
	if r.balance > r.maxBalance {
		r.balance = r.maxBalance
	}
}

// Balance returns the credits currently available.
func (r *RateLimiter) Balance() float64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance
}

// MaxBalance returns the bucket capacity.
func (r *RateLimiter) MaxBalance() float64 {
	if r == nil {
		return 0
	}
	return r.maxBalance
}
