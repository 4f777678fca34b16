package util

import "time"

// Clock abstracts timer creation so the engine loop can be driven by a
// fake in tests.
type Clock interface {
	NewTicker(d time.Duration) Ticker
	Now() time.Time
}

// Ticker is the subset of time.Ticker the engine loop needs.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type RealClock struct{}

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }
func (RealClock) Now() time.Time                   { return time.Now() }

type realTicker struct{ t *time.Ticker }

func (r realTicker) Chan() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()                  { r.t.Stop() }
