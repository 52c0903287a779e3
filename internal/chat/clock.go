package chat

import "time"

// Clock creates the tickers that drive polling.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker is a stoppable source of ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
