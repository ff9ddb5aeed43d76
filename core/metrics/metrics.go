// Package metrics holds the one instrument the core packages need from a
// metrics backend: a latency timer. Backends supply the sink.
package metrics

import "time"

// Timer records how long an operation took. ObserveDuration is called once,
// when the operation ends.
type Timer interface {
	ObserveDuration()
}

// NewTimer starts a Timer that passes the elapsed time to observe.
//
//	defer metrics.NewTimer(func(d time.Duration) { h.Observe(d.Seconds()) }).ObserveDuration()
func NewTimer(observe func(time.Duration)) Timer {
	return stopwatch{start: time.Now(), observe: observe}
}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }

type stopwatch struct {
	start   time.Time
	observe func(time.Duration)
}

func (w stopwatch) ObserveDuration() { w.observe(time.Since(w.start)) }

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}
