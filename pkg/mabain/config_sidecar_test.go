package mabain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabaindb/mabain/pkg/mabain"
)

func Test_WriteConfig_Then_Open_Picks_Up_Pinned_Options(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, mabain.WriteConfig(dir, mabain.FileConfig{
		IndexBlockSize:    mabain.MinBlockSize,
		DataBlockSize:     mabain.MinBlockSize,
		EnableHashIndex:   true,
		HashIndexCapacity: 256,
	}))

	db, err := mabain.Open(mabain.Options{Dir: dir, Access: mabain.Writer})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))

	st, err := db.Stats()
	require.NoError(t, err)
	require.True(t, st.HashIndexOn)
}

func Test_LoadConfig_File_Bool_Applies_Over_False_Options_Field(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, mabain.WriteConfig(dir, mabain.FileConfig{
		EnableHashIndex: true,
	}))

	opt, err := mabain.LoadConfig(dir, mabain.Options{EnableHashIndex: false})
	require.NoError(t, err)

	// EnableHashIndex is a bool: the caller's zero value (false) cannot be
	// distinguished from "unset", so the file's true still applies here;
	// this documents that bool fields in FileConfig are OR'd in rather
	// than strictly deferring to an explicitly-false Options value.
	require.True(t, opt.EnableHashIndex)
}
