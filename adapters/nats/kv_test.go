package nats

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/ports/kv"
)

func TestKV(t *testing.T) {
	type fooBar struct {
		Fruit string
		Count int
	}
	connectNats := StartTestServer(t)
	store, err := NewKvStore(KvConfig{
		Bucket:  "fruits_" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 8),
		Connect: connectNats,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	ctx := t.Context()

	require.NoError(t, kv.PutJSON(ctx, store, "fruit.apple", fooBar{Fruit: "apple", Count: 10}, kv.PutOptions{}))
	require.NoError(t, kv.PutJSON(ctx, store, "fruit.pear", fooBar{Fruit: "pear", Count: 2}, kv.PutOptions{}))
	require.NoError(t, kv.PutJSON(ctx, store, "veg.leek", fooBar{Fruit: "leek"}, kv.PutOptions{}))

	v, err := kv.GetJSON[fooBar](ctx, store, "fruit.apple")
	require.NoError(t, err)
	require.Equal(t, fooBar{Fruit: "apple", Count: 10}, v)

	keys, err := store.Keys(ctx, "fruit.")
	require.NoError(t, err)
	require.Equal(t, []string{"fruit.apple", "fruit.pear"}, keys)

	require.NoError(t, store.Delete(ctx, "fruit.apple"))
	_, err = store.Get(ctx, "fruit.apple")
	require.ErrorIs(t, err, kv.ErrNotFound)

	keys, err = store.Keys(ctx, "fruit.")
	require.NoError(t, err)
	require.Equal(t, []string{"fruit.pear"}, keys)
}
