package mabain_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabaindb/mabain/pkg/mabain"
)

func Test_AsyncWriter_Applies_Mutations_Before_Enqueue_Returns(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{
		AsyncWriter: mabain.NewChanAsyncWriter(16),
	})

	// Enqueue blocks until the drain goroutine has applied the mutation
	// (asyncwriter.go's Enqueue contract), so a Find immediately after Add
	// returns must already observe it.
	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)

	require.NoError(t, db.Remove([]byte("Apple")))

	_, err = db.Find([]byte("Apple"))
	require.ErrorIs(t, err, mabain.ErrNotExist)
}

func Test_AsyncWriter_Handles_Many_Queued_Mutations(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{
		AsyncWriter: mabain.NewChanAsyncWriter(4),
	})

	const keyCount = 500

	for i := 0; i < keyCount; i++ {
		key := []byte(fmt.Sprintf("async-%04d", i))
		require.NoError(t, db.Add(key, []byte("v"), false))
	}

	for i := 0; i < keyCount; i++ {
		key := []byte(fmt.Sprintf("async-%04d", i))

		v, err := db.Find(key)
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	}
}
