package poll

import "time"

// Clock abstracts time so polling behavior is testable without waiting on
// wall-clock intervals.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker mirrors the part of time.Ticker the client uses.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// RealClock delegates to the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Ticker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) Chan() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()                  { r.t.Stop() }
