package es

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// StartTestStore creates and starts a Store for tests. Background tasks are
// disabled unless opts enable them, and the store is stopped on cleanup.
func StartTestStore(t testing.TB, opts ...StoreOption) *Store {
	t.Helper()
	s := NewStore(append([]StoreOption{
		WithStatisticsInterval(0),
		WithRetentionInterval(0),
	}, opts...)...)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { require.NoError(t, s.Stop()) })
	return s
}

// RequireAppend appends events and fails the test unless the append succeeds.
func RequireAppend(t testing.TB, s *Store, aggregateID string, expected Version, events ...Event) AppendResult {
	t.Helper()
	res := s.StoreEvents(t.Context(), aggregateID, events, expected)
	require.True(t, res.Success, "append failed: %s", res.Error)
	return res
}
