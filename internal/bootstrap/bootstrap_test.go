package bootstrap

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsPID1MatchesGetpid(t *testing.T) {
	assert.Equal(t, os.Getpid() == 1, IsPID1())
}

// TestRunSkipsFilesystemSetupWhenNotPID1 exercises the non-PID-1 branch,
// the only one exercisable from a normal test process without root and
// a real guest kernel: it must still arm the reaper/shutdown hook and
// return without touching any mount.
func TestRunSkipsFilesystemSetupWhenNotPID1(t *testing.T) {
	assert := assert.New(t)
	if IsPID1() {
		t.Skip("test process is pid 1, cannot exercise the non-pid-1 branch")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := Run(ctx, Config{})
	assert.NoError(err)
	assert.NotNil(shutdown)
	shutdown()
}

func TestLoadModuleMissingFileErrors(t *testing.T) {
	assert.Error(t, loadModule("/no/such/module.ko"))
}

func TestArmTerminalSignalsStopsWatchingOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := armTerminalSignals(ctx)
	shutdown()
}

func TestArmTerminalSignalsReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	shutdown := armTerminalSignals(ctx)
	cancel()
	time.Sleep(10 * time.Millisecond)
	shutdown()
}
