package gtime

import (
	"math/rand"
	"time"
)

// Ticker is a time.Ticker whose period is shortened by a random jitter, so
// processes started together do not flush at the same instant.
type Ticker struct {
	tick     *time.Ticker
	duration time.Duration
	jitter   time.Duration
}

// NewTicker returns a Ticker firing every duration minus a random amount below jitter.
func NewTicker(duration, jitter time.Duration) *Ticker {
	period := duration
	if jitter > 0 && jitter < duration {
		period -= time.Duration(rand.Int63n(int64(jitter)))
	}
	return &Ticker{
		tick:     time.NewTicker(period),
		duration: duration,
		jitter:   jitter,
	}
}

// C returns the channel that receives when the ticker fires.
func (t *Ticker) C() <-chan time.Time {
	return t.tick.C
}

// Stop turns off the ticker.
func (t *Ticker) Stop() {
	t.tick.Stop()
}
