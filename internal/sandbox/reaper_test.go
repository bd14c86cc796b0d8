package sandbox

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReaperObservesExit spawns a real child (without ever calling
// cmd.Wait, which would otherwise race the reaper's own wait4 call) and
// checks the reaper's SIGCHLD-driven loop picks up its exit and fulfills
// the registered Process's waiters -- the same path Container.Create
// wires processReaper.Watch through.
func TestReaperObservesExit(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	cmd := exec.Command("true")
	require.NoError(cmd.Start())

	r := NewReaper()
	r.Start()
	defer r.Stop()

	p := NewProcess("test")
	p.MarkRunning(cmd.Process.Pid)

	exited := make(chan ExitState, 1)
	r.Watch(cmd.Process.Pid, p, func(e ExitState) { exited <- e })

	select {
	case e := <-exited:
		assert.Equal(0, e.Code)
		assert.False(e.Signaled)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper never observed child exit")
	}

	assert.True(p.HasExited())
}

func TestReaperIgnoresUnwatchedChildren(t *testing.T) {
	require := require.New(t)

	r := NewReaper()
	r.Start()
	defer r.Stop()

	cmd := exec.Command("true")
	require.NoError(cmd.Start())

	// Give the reaper a moment to collect the zombie even though nothing
	// is watching it -- it must not panic or block on an unknown pid.
	time.Sleep(100 * time.Millisecond)
}
