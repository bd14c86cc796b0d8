package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

func TestStorageTableGetNotFound(t *testing.T) {
	tbl := newStorageTable()
	_, err := tbl.Get("missing")
	assert.IsType(t, &kataerr.NotFound{}, err)
}

func TestStorageTableRemoveUnknownIsNotFound(t *testing.T) {
	tbl := newStorageTable()
	err := tbl.Remove("missing")
	assert.IsType(t, &kataerr.NotFound{}, err)
}

func TestStorageTableAddRefcountsAndUnmounts(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("mounting tmpfs requires root")
	}
	require := require.New(t)
	assert := assert.New(t)

	target := filepath.Join(t.TempDir(), "storage-mount")
	tbl := newStorageTable()
	s := &Storage{ID: "s1", Source: "tmpfs", Target: target, FSType: "tmpfs"}

	require.NoError(tbl.Add(s))
	require.NoError(tbl.Add(s), "second Add on the same ID just bumps the refcount")

	got, err := tbl.Get("s1")
	require.NoError(err)
	assert.Equal(2, got.refs)

	require.NoError(tbl.Remove("s1"), "refcount drops to 1, still mounted")
	_, err = tbl.Get("s1")
	assert.NoError(err)

	require.NoError(tbl.Remove("s1"), "refcount drops to 0, unmounts")
	_, err = tbl.Get("s1")
	assert.IsType(&kataerr.NotFound{}, err)
}

// Run with -race: concurrent Adds for distinct storage IDs must neither
// panic on the shared map nor corrupt any entry's refcount, regardless of
// whether the underlying mount itself succeeds in this environment.
func TestStorageTableConcurrentAddsForDistinctIDs(t *testing.T) {
	tbl := newStorageTable()
	dir := t.TempDir()

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("store-%d", i)
			s := &Storage{ID: id, Source: "tmpfs", Target: filepath.Join(dir, id), FSType: "tmpfs"}
			_ = tbl.Add(s)
		}(i)
	}
	wg.Wait()
}
