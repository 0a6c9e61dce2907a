package mabain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ParseFileConfig_Accepts_Comments_And_Trailing_Commas(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		// block sizes tuned for this deployment
		"index_block_size": 131072,
		"data_block_size": 262144,
		"enable_hash_index": true,
		"hash_index_capacity": 4096, // trailing comma above, comment here
	}`)

	fc, err := parseFileConfig(data)
	require.NoError(t, err)
	require.Equal(t, 131072, fc.IndexBlockSize)
	require.Equal(t, 262144, fc.DataBlockSize)
	require.True(t, fc.EnableHashIndex)
	require.Equal(t, 4096, fc.HashIndexCapacity)
}

func Test_ParseFileConfig_Rejects_Invalid_JSON(t *testing.T) {
	t.Parallel()

	_, err := parseFileConfig([]byte(`{not json`))
	require.Error(t, err)
}
