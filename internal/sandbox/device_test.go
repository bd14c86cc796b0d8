package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

func TestDeviceTableAddRemoveRoundTrip(t *testing.T) {
	assert := assert.New(t)
	table := newDeviceTable()

	d := &Device{ID: "rng0", Kind: DeviceRNG}
	assert.NoError(table.Add(context.Background(), d, time.Second))
	assert.Equal(DeviceReadyState, d.Ready)

	got, err := table.Get("rng0")
	assert.NoError(err)
	assert.Same(d, got)

	assert.NoError(table.Remove("rng0"))

	_, err = table.Get("rng0")
	assert.IsType(&kataerr.NotFound{}, err)

	// Removing twice is idempotent-but-erroring: it never corrupts state,
	// it just keeps reporting NotFound.
	err = table.Remove("rng0")
	assert.IsType(&kataerr.NotFound{}, err)
}

func TestDeviceTableAddDuplicateIDFails(t *testing.T) {
	assert := assert.New(t)
	table := newDeviceTable()

	d := &Device{ID: "blk0", Kind: DeviceRNG}
	assert.NoError(table.Add(context.Background(), d, time.Second))

	err := table.Add(context.Background(), &Device{ID: "blk0", Kind: DeviceRNG}, time.Second)
	assert.IsType(&kataerr.AlreadyExists{}, err)
}

func TestDeviceTableBlockDeviceWaitsForGuestNode(t *testing.T) {
	assert := assert.New(t)
	table := newDeviceTable()

	dir := t.TempDir()
	path := filepath.Join(dir, "vdb")

	go func() {
		time.Sleep(20 * time.Millisecond)
		f, err := os.Create(path)
		if err == nil {
			f.Close()
		}
	}()

	d := &Device{ID: "blk1", Kind: DeviceBlock, GuestPath: path}
	err := table.Add(context.Background(), d, time.Second)
	assert.NoError(err)
}

func TestDeviceTableBlockDeviceTimesOut(t *testing.T) {
	assert := assert.New(t)
	table := newDeviceTable()

	dir := t.TempDir()
	path := filepath.Join(dir, "never-appears")

	d := &Device{ID: "blk2", Kind: DeviceBlock, GuestPath: path}
	err := table.Add(context.Background(), d, 30*time.Millisecond)
	assert.IsType(&kataerr.DeviceNotFound{}, err)
}

// Run with -race: concurrent Adds for distinct IDs must neither panic on
// the shared map nor lose any entry.
func TestDeviceTableConcurrentAddsForDistinctIDs(t *testing.T) {
	table := newDeviceTable()

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("dev-%d", i)
			assert.NoError(t, table.Add(context.Background(), &Device{ID: id, Kind: DeviceRNG}, time.Second))
		}(i)
	}
	wg.Wait()

	assert.Len(t, table.All(), n)
}
