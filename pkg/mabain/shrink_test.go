package mabain_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabaindb/mabain/pkg/mabain"
)

func Test_Shrink_Skips_When_Under_Threshold(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))

	before, err := db.Stats()
	require.NoError(t, err)

	stats, err := db.Shrink(^uint64(0), ^uint64(0))
	require.NoError(t, err)
	require.Zero(t, stats)

	after, err := db.Stats()
	require.NoError(t, err)
	require.Equal(t, before.ShrinkEpoch, after.ShrinkEpoch)
}

func Test_Shrink_Reclaims_Removed_Keys_And_Preserves_Survivors(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	const churned = 2000

	for i := 0; i < churned; i++ {
		key := []byte(fmt.Sprintf("churn-%06d", i))
		require.NoError(t, db.Add(key, []byte("throwaway"), false))
	}

	for i := 0; i < churned; i++ {
		key := []byte(fmt.Sprintf("churn-%06d", i))
		require.NoError(t, db.Remove(key))
	}

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, db.Add([]byte("Orange"), []byte("Orange"), false))

	beforeStats, err := db.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 2, beforeStats.KeyCount)

	stats, err := db.Shrink(0, 0)
	require.NoError(t, err)
	require.True(t, stats.KeysRescanned >= 2)
	require.LessOrEqual(t, stats.IndexBlocksTo, stats.IndexBlocksFrom)
	require.LessOrEqual(t, stats.DataBlocksTo, stats.DataBlocksFrom)

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)

	v, err = db.Find([]byte("Orange"))
	require.NoError(t, err)
	require.Equal(t, []byte("Orange"), v)

	afterStats, err := db.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 2, afterStats.KeyCount)
	require.Equal(t, beforeStats.ShrinkEpoch+1, afterStats.ShrinkEpoch)

	require.NoError(t, db.Add([]byte("Banana"), []byte("Yellow"), false))

	v, err = db.Find([]byte("Banana"))
	require.NoError(t, err)
	require.Equal(t, []byte("Yellow"), v)
}

// Test_Shrink_Find_Unchanged_For_Every_Surviving_Key is spec.md §8
// scenario 4: after a Shrink that had real free-list space to reclaim
// (so the free lists are non-empty when reinit clears them),
// every surviving key must still resolve to its own distinct value, not
// a stale or neighboring one.
func Test_Shrink_Find_Unchanged_For_Every_Surviving_Key(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	const (
		churned   = 3000
		survivors = 500
	)

	for i := 0; i < churned; i++ {
		key := []byte(fmt.Sprintf("gone-%06d", i))
		require.NoError(t, db.Add(key, []byte(fmt.Sprintf("gone-value-%06d", i)), false))
	}

	want := make(map[string]string, survivors)

	for i := 0; i < survivors; i++ {
		key := fmt.Sprintf("keep-%06d", i)
		val := fmt.Sprintf("keep-value-%06d", i)
		require.NoError(t, db.Add([]byte(key), []byte(val), false))
		want[key] = val
	}

	for i := 0; i < churned; i++ {
		key := []byte(fmt.Sprintf("gone-%06d", i))
		require.NoError(t, db.Remove(key))
	}

	stats, err := db.Shrink(0, 0)
	require.NoError(t, err)
	require.EqualValues(t, survivors, stats.KeysRescanned)

	for key, val := range want {
		v, err := db.Find([]byte(key))
		require.NoError(t, err)
		require.Equal(t, val, string(v), "key %s returned wrong value after shrink", key)
	}

	for i := 0; i < churned; i++ {
		key := []byte(fmt.Sprintf("gone-%06d", i))

		_, err := db.Find(key)
		require.ErrorIs(t, err, mabain.ErrNotExist)
	}
}

// Test_Shrink_Resets_Hash_Index_And_Prefix_Cache confirms that, after a
// rebuild, Find still returns each key's own value rather than one read
// through a stale cached offset that happens to still look valid.
func Test_Shrink_Resets_Hash_Index_And_Prefix_Cache(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{
		EnableHashIndex:   true,
		EnablePrefixCache: true,
	})

	const churned = 1500

	for i := 0; i < churned; i++ {
		key := []byte(fmt.Sprintf("temp-%06d", i))
		require.NoError(t, db.Add(key, []byte("x"), false))
	}

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))

	_, err := db.Find([]byte("Apple"))
	require.NoError(t, err)

	for i := 0; i < churned; i++ {
		key := []byte(fmt.Sprintf("temp-%06d", i))
		require.NoError(t, db.Remove(key))
	}

	_, err = db.Shrink(0, 0)
	require.NoError(t, err)

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)

	require.NoError(t, db.Add([]byte("Orange"), []byte("Orange"), false))

	v, err = db.Find([]byte("Orange"))
	require.NoError(t, err)
	require.Equal(t, []byte("Orange"), v)
}

func Test_CollectResource_Is_An_Alias_For_Shrink(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))

	stats, err := db.CollectResource(0, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.KeysRescanned)

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)
}

func Test_Shrink_Requires_Writer_Handle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writer := openWriter(t, dir, mabain.Options{})
	require.NoError(t, writer.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, writer.Close())

	reader, err := mabain.Open(mabain.Options{Dir: dir, Access: mabain.Reader})
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.Shrink(0, 0)
	require.ErrorIs(t, err, mabain.ErrNotAllowed)
}
