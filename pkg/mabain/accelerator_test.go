package mabain_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabaindb/mabain/pkg/mabain"
)

func Test_HashIndex_And_PrefixCache_Accelerate_Find_Without_Changing_Result(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{
		EnableHashIndex:   true,
		EnablePrefixCache: true,
	})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, db.Add([]byte("Application"), []byte("Suite"), false))

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)

	// A second Find for the same key should now be served by the hash
	// index and/or prefix cache; the result must be identical regardless
	// of which path answered it.
	v, err = db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)

	v, err = db.Find([]byte("Application"))
	require.NoError(t, err)
	require.Equal(t, []byte("Suite"), v)

	_, err = db.Find([]byte("Applesauce"))
	require.ErrorIs(t, err, mabain.ErrNotExist)
}

func Test_HashIndex_Full_Capacity_Does_Not_Fail_Add(t *testing.T) {
	t.Parallel()

	// A deliberately tiny hash index fills up quickly; Add must still
	// succeed (ErrNoResource from the accelerator sync is swallowed, see
	// DB.syncAccelerators) and every key must still be findable via the trie.
	db := openWriter(t, t.TempDir(), mabain.Options{
		EnableHashIndex:   true,
		HashIndexCapacity: 4,
	})

	const keyCount = 64

	for i := 0; i < keyCount; i++ {
		key := []byte(fmt.Sprintf("hx-%04d", i))
		require.NoError(t, db.Add(key, []byte("v"), false))
	}

	for i := 0; i < keyCount; i++ {
		key := []byte(fmt.Sprintf("hx-%04d", i))

		v, err := db.Find(key)
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	}
}

func Test_Remove_Evicts_Hash_Index_Entry(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{EnableHashIndex: true})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))

	_, err := db.Find([]byte("Apple"))
	require.NoError(t, err)

	require.NoError(t, db.Remove([]byte("Apple")))

	_, err = db.Find([]byte("Apple"))
	require.ErrorIs(t, err, mabain.ErrNotExist)

	require.NoError(t, db.Add([]byte("Apple"), []byte("Green"), false))

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Green"), v)
}
