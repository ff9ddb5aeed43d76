package es

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_Snapshots_LatestFollowsNewest(t *testing.T) {
	s := StartTestStore(t)
	ctx := t.Context()

	RequireAppend(t, s, "order-1", 0, events(3)...)
	res := s.CreateSnapshot(ctx, "order-1", SnapshotInput{Version: 3, Data: []byte(`{"items":3}`)})
	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.SnapshotID)
	require.Equal(t, len(`{"items":3}`), res.Size)

	RequireAppend(t, s, "order-1", 3, events(2)...)

	snap, err := s.GetSnapshot(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, Version(3), snap.Version)
	require.Equal(t, res.SnapshotID, snap.ID)

	require.True(t, s.CreateSnapshot(ctx, "order-1", SnapshotInput{Version: 5, Data: []byte(`{"items":5}`)}).Success)
	snap, err = s.GetSnapshot(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, Version(5), snap.Version)
	require.JSONEq(t, `{"items":5}`, string(snap.Data))

	at3, err := s.GetSnapshotAt(ctx, "order-1", 3)
	require.NoError(t, err)
	require.NotNil(t, at3)
	require.Equal(t, Version(3), at3.Version)

	missing, err := s.GetSnapshotAt(ctx, "order-1", 4)
	require.NoError(t, err)
	require.Nil(t, missing)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.SnapshotCount)
}

func TestStore_Snapshots_Delete(t *testing.T) {
	s := StartTestStore(t)
	ctx := t.Context()
	require.True(t, s.CreateSnapshot(ctx, "agg", SnapshotInput{Version: 1}).Success)

	ok, err := s.DeleteSnapshot(ctx, "agg", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.DeleteSnapshot(ctx, "agg", 1)
	require.NoError(t, err)
	require.False(t, ok)

	snap, err := s.GetSnapshot(ctx, "agg")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestStore_Snapshots_NeverAuthoritative(t *testing.T) {
	s := StartTestStore(t)
	ctx := t.Context()

	RequireAppend(t, s, "agg", 0, events(4)...)
	require.True(t, s.CreateSnapshot(ctx, "agg", SnapshotInput{Version: 2}).Success)
	require.True(t, s.CreateSnapshot(ctx, "agg", SnapshotInput{Version: 4}).Success)

	before, err := s.GetEventStream(ctx, "agg", StreamOptions{})
	require.NoError(t, err)

	for _, v := range []Version{2, 4} {
		_, err := s.DeleteSnapshot(ctx, "agg", v)
		require.NoError(t, err)
	}

	after, err := s.GetEventStream(ctx, "agg", StreamOptions{})
	require.NoError(t, err)
	require.Equal(t, before, after)

	v, err := s.GetAggregateVersion(ctx, "agg")
	require.NoError(t, err)
	require.Equal(t, Version(4), v)
}

func TestStore_CreateSnapshot_Invalid(t *testing.T) {
	s := StartTestStore(t)

	res := s.CreateSnapshot(t.Context(), "", SnapshotInput{Version: 1})
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, ErrInvalidArgument)

	res = s.CreateSnapshot(t.Context(), "agg", SnapshotInput{})
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, ErrInvalidArgument)
}

func TestStore_CreateSnapshot_StampsTenant(t *testing.T) {
	s := StartTestStore(t)
	ctx := WithCaller(t.Context(), Caller{TenantID: "t1"})
	exp := time.Now().Add(time.Hour).UTC()

	require.True(t, s.CreateSnapshot(ctx, "agg", SnapshotInput{
		Version:        1,
		Data:           []byte(`{}`),
		Metadata:       map[string]any{"schema": "v1"},
		ExpirationTime: &exp,
	}).Success)

	snap, err := s.GetSnapshot(ctx, "agg")
	require.NoError(t, err)
	require.Equal(t, "t1", snap.TenantID)
	require.Equal(t, "v1", snap.Metadata["schema"])
	require.NotNil(t, snap.ExpirationTime)
	require.False(t, snap.Expired(time.Now()))
}
