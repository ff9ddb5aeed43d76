package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	var (
		observed time.Duration
		calls    int
	)
	timer := NewTimer(func(d time.Duration) {
		observed = d
		calls++
	})
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration()

	require.Equal(t, 1, calls)
	require.GreaterOrEqual(t, observed, 5*time.Millisecond)
}

func TestNopTimer(t *testing.T) {
	require.NotPanics(t, func() { NopTimer().ObserveDuration() })
}
