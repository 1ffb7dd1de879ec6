package system

import (
	"context"
	"time"
)

// TPSToDT converts a tick rate to a tick duration.
func TPSToDT(tps float64) time.Duration {
	return time.Duration(float64(time.Second) / tps)
}

// RunLoop drives a Runner at a fixed tick duration. Late ticks are caught up
// one at a time, up to MaxCatchUp per wakeup; anything beyond that is
// dropped so a stalled process does not spiral.
type RunLoop struct {
	TickDT     time.Duration
	MaxCatchUp int

	exit bool
	now  func() time.Time
}

func NewRunLoop(tickDT time.Duration) *RunLoop {
	return &RunLoop{
		TickDT:     tickDT,
		MaxCatchUp: 5,
		now:        time.Now,
	}
}

// RequestExit makes Run return after the current tick.
func (l *RunLoop) RequestExit()     { l.exit = true }
func (l *RunLoop) ShouldExit() bool { return l.exit }

// Run ticks r until ctx is done or RequestExit is called from a system.
func (l *RunLoop) Run(ctx context.Context, r *Runner) error {
	ticker := time.NewTicker(l.TickDT)
	defer ticker.Stop()

	last := l.now()
	var acc time.Duration
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := l.now()
		acc += now.Sub(last)
		last = now

		n := 0
		for acc >= l.TickDT && n < l.MaxCatchUp {
			r.Tick(l.TickDT)
			acc -= l.TickDT
			n++
			if l.exit {
				return nil
			}
		}
		if acc >= l.TickDT {
			acc %= l.TickDT
		}
	}
}
