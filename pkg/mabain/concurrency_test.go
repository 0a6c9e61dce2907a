package mabain_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabaindb/mabain/pkg/mabain"
)

// Test_Concurrent_Readers_See_Consistent_Values starts many goroutines
// reading a populated store while the writer keeps mutating it, checking
// that every successful Find returns either the old or the new value for a
// key never torn bytes from both (the lock-free retry protocol's whole
// point).
func Test_Concurrent_Readers_See_Consistent_Values(t *testing.T) {
	t.Parallel()

	db := openWriter(t, t.TempDir(), mabain.Options{})

	const keyCount = 2000

	keys := make([][]byte, keyCount)

	for i := 0; i < keyCount; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%06d", i))
		require.NoError(t, db.Add(keys[i], []byte("v1"), false))
	}

	stop := make(chan struct{})

	var wg sync.WaitGroup

	for r := 0; r < 8; r++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				for _, k := range keys {
					v, err := db.Find(k)
					if err != nil {
						if errors.Is(err, mabain.ErrTryAgain) {
							continue
						}

						t.Errorf("unexpected Find error: %v", err)

						return
					}

					if string(v) != "v1" && string(v) != "v2" {
						t.Errorf("Find(%s) = %q, want v1 or v2", k, v)

						return
					}
				}
			}
		}()
	}

	for i := 0; i < keyCount; i++ {
		require.NoError(t, db.Add(keys[i], []byte("v2"), true))
	}

	close(stop)
	wg.Wait()

	for _, k := range keys {
		v, err := db.Find(k)
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), v)
	}
}
