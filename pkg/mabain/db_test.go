package mabain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabaindb/mabain/pkg/mabain"
)

func openWriter(t *testing.T, dir string, opt mabain.Options) *mabain.DB {
	t.Helper()

	opt.Dir = dir
	opt.Access = mabain.Writer

	db, err := mabain.Open(opt)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// Test_Add_Find_Apple_Orange_Grape exercises the canonical three-key
// scenario: three keys whose first bytes all differ, so each is stored
// under its own root-table entry.
func Test_Add_Find_Apple_Orange_Grape(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, db.Add([]byte("Orange"), []byte("Orange"), false))
	require.NoError(t, db.Add([]byte("Grape"), []byte("Purple"), false))

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)

	v, err = db.Find([]byte("Orange"))
	require.NoError(t, err)
	require.Equal(t, []byte("Orange"), v)

	v, err = db.Find([]byte("Grape"))
	require.NoError(t, err)
	require.Equal(t, []byte("Purple"), v)

	_, err = db.Find([]byte("Apricot"))
	require.ErrorIs(t, err, mabain.ErrNotExist)
}

func Test_Add_Without_Overwrite_Rejects_Existing_Key(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))
	err := db.Add([]byte("Apple"), []byte("Green"), false)
	require.ErrorIs(t, err, mabain.ErrKeyExist)

	require.NoError(t, db.Add([]byte("Apple"), []byte("Green"), true))

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Green"), v)
}

func Test_Remove_Deletes_Key_And_Leaves_Siblings(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, db.Add([]byte("Application"), []byte("Suite"), false))

	require.NoError(t, db.Remove([]byte("Apple")))

	_, err := db.Find([]byte("Apple"))
	require.ErrorIs(t, err, mabain.ErrNotExist)

	v, err := db.Find([]byte("Application"))
	require.NoError(t, err)
	require.Equal(t, []byte("Suite"), v)

	err = db.Remove([]byte("Apple"))
	require.ErrorIs(t, err, mabain.ErrNotExist)
}

func Test_RemoveAll_Empties_Store(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, db.Add([]byte("Orange"), []byte("Orange"), false))

	require.NoError(t, db.RemoveAll())

	_, err := db.Find([]byte("Apple"))
	require.ErrorIs(t, err, mabain.ErrNotExist)

	st, err := db.Stats()
	require.NoError(t, err)
	require.Zero(t, st.KeyCount)

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))

	v, err := db.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)
}

// Test_FindLongestPrefix covers the scenario where several stored keys are
// each a prefix of the lookup key, and the longest one must win.
func Test_FindLongestPrefix(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("App"), []byte("v1"), false))
	require.NoError(t, db.Add([]byte("Apple"), []byte("v2"), false))
	require.NoError(t, db.Add([]byte("Application"), []byte("v3"), false))

	v, n, err := db.FindLongestPrefix([]byte("Applesauce"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
	require.Equal(t, len("Apple"), n)

	v, n, err = db.FindLongestPrefix([]byte("Appetite"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
	require.Equal(t, len("App"), n)

	_, _, err = db.FindLongestPrefix([]byte("Banana"))
	require.ErrorIs(t, err, mabain.ErrNotExist)
}

// Test_FindLongestPrefix_Single_Key_Leaf covers spec.md §8 scenario 2: a
// root edge that resolves to a single leaf (no intermediate node) must
// still be recorded as the best match when the query has trailing bytes
// past the stored key, not just when the query ends exactly at the leaf.
func Test_FindLongestPrefix_Single_Key_Leaf(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, db.Add([]byte("Grape"), []byte("Purple"), false))

	v, n, err := db.FindLongestPrefix([]byte("Apple Pie"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)
	require.Equal(t, len("Apple"), n)

	v, n, err = db.FindLongestPrefix([]byte("Grape juice"))
	require.NoError(t, err)
	require.Equal(t, []byte("Purple"), v)
	require.Equal(t, len("Grape"), n)

	v, n, err = db.FindLongestPrefix([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)
	require.Equal(t, len("Apple"), n)
}

func Test_Append_Grows_Value_In_Place(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("log"), []byte("line1;"), false))
	require.NoError(t, db.Append([]byte("log"), []byte("line2;")))
	require.NoError(t, db.Append([]byte("log"), []byte("line3;")))

	v, err := db.Find([]byte("log"))
	require.NoError(t, err)
	require.Equal(t, []byte("line1;line2;line3;"), v)
}

func Test_Append_Rejects_Missing_Key(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	err := db.Append([]byte("ghost"), []byte("x"))
	require.ErrorIs(t, err, mabain.ErrNotExist)
}

// Test_Append_Overflow exercises the append chain's ceiling: once the
// total value length would exceed MaxDataSize, Append must fail cleanly
// rather than silently truncate or corrupt the chain.
func Test_Append_Overflow(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	chunk := make([]byte, mabain.MaxAppendSize)
	for i := range chunk {
		chunk[i] = 'x'
	}

	require.NoError(t, db.Add([]byte("blob"), chunk, false))

	chunks := mabain.MaxDataSize / mabain.MaxAppendSize

	for i := 1; i < chunks; i++ {
		require.NoError(t, db.Append([]byte("blob"), chunk))
	}

	err := db.Append([]byte("blob"), chunk)
	require.ErrorIs(t, err, mabain.ErrAppendOverflow)
}

func Test_Find_Rejects_Oversized_Key(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	key := make([]byte, mabain.MaxKeyLength+1)

	_, err := db.Find(key)
	require.ErrorIs(t, err, mabain.ErrInvalidArg)
}

func Test_Reader_Handle_Rejects_Mutation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writer := openWriter(t, dir, mabain.Options{})
	require.NoError(t, writer.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, writer.Close())

	reader, err := mabain.Open(mabain.Options{Dir: dir, Access: mabain.Reader})
	require.NoError(t, err)
	defer reader.Close()

	v, err := reader.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)

	err = reader.Add([]byte("Orange"), []byte("Orange"), false)
	require.ErrorIs(t, err, mabain.ErrNotAllowed)
}

func Test_Second_Writer_Gets_Busy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_ = openWriter(t, dir, mabain.Options{})

	_, err := mabain.Open(mabain.Options{Dir: dir, Access: mabain.Writer})
	require.ErrorIs(t, err, mabain.ErrBusy)
}

func Test_Iterator_Visits_Every_Key(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	want := map[string]string{
		"Apple":   "Red",
		"Orange":  "Orange",
		"Grape":   "Purple",
		"App":     "v1",
		"Applied": "v2",
	}

	for k, v := range want {
		require.NoError(t, db.Add([]byte(k), []byte(v), false))
	}

	it, err := db.Iterator()
	require.NoError(t, err)
	defer it.Close()

	got := map[string]string{}

	for it.Next() {
		e := it.Entry()
		got[string(e.Key)] = string(e.Value)
	}

	require.NoError(t, it.Err())
	require.Equal(t, want, got)
}

func Test_Validate_Passes_On_Healthy_Store(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	require.NoError(t, db.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, db.Add([]byte("Orange"), []byte("Orange"), false))

	require.NoError(t, db.Validate())
}

func Test_Reopen_Sees_Prior_Writer_Data(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	db1 := openWriter(t, dir, mabain.Options{})
	require.NoError(t, db1.Add([]byte("Apple"), []byte("Red"), false))
	require.NoError(t, db1.Close())

	db2, err := mabain.Open(mabain.Options{Dir: dir, Access: mabain.Writer})
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Find([]byte("Apple"))
	require.NoError(t, err)
	require.Equal(t, []byte("Red"), v)
}
