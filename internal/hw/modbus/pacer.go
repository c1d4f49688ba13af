package modbus

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Pacer guarantees the bus is not used again sooner than Delay after the
// previous transaction completed.
type Pacer struct {
	clock clock.Clock
	delay time.Duration
	last  time.Time
}

// NewPacer returns a pacer on c. A nil clock uses the wall clock.
func NewPacer(c clock.Clock, delay time.Duration) *Pacer {
	if c == nil {
		c = clock.New()
	}
	return &Pacer{clock: c, delay: delay}
}

// Delay returns the settle delay.
func (p *Pacer) Delay() time.Duration { return p.delay }

// Wait blocks until the settle delay since the last transaction has elapsed.
func (p *Pacer) Wait() {
	if p.delay <= 0 || p.last.IsZero() {
		return
	}
	if d := p.last.Add(p.delay).Sub(p.clock.Now()); d > 0 {
		p.clock.Sleep(d)
	}
}

// Done marks the end of a transaction.
func (p *Pacer) Done() {
	p.last = p.clock.Now()
}
