package kernelapi

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsHelper(t *testing.T) {
	assert := assert.New(t)

	assert.False(needsHelper(&ProcessSpec{}))
	assert.True(needsHelper(&ProcessSpec{JoinNamespaces: []NamespaceFD{{}}}))
	assert.True(needsHelper(&ProcessSpec{PreExec: PreExecStep{Capabilities: &Capabilities{}}}))
	assert.True(needsHelper(&ProcessSpec{PreExec: PreExecStep{Rlimits: []Rlimit{{}}}}))
	assert.True(needsHelper(&ProcessSpec{PreExec: PreExecStep{SeccompFilter: &SeccompProfile{}}}))
}

func TestSpawnAndReapSimpleCommand(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	spawned, err := Spawn(&ProcessSpec{Path: "/bin/true"})
	require.NoError(err)
	require.NotZero(spawned.Pid)

	found, _, _, _, err := waitForReap(t, spawned.Pid)
	require.NoError(err)
	assert.True(found)
}

func TestWrapWithInitHelperBuildsArgv(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	r, w, err := os.Pipe()
	require.NoError(err)
	defer r.Close()
	defer w.Close()

	spec := &ProcessSpec{
		Path: "/bin/echo",
		Args: []string{"hi"},
		JoinNamespaces: []NamespaceFD{
			{Type: NamespaceNet, FD: r},
		},
		PreExec: PreExecStep{SyncPipe: w},
	}

	base := exec.Command("/bin/echo", "hi")

	cmd, err := wrapWithInitHelper(base, spec)
	require.NoError(err)

	assert.Equal("/proc/self/exe", cmd.Path)
	assert.Contains(cmd.Args, "__kata_agent_nsenter")
	assert.Contains(cmd.Args, "net=3")
	assert.Contains(cmd.Args, "sync=4")
	assert.Equal([]string{"--", "/bin/echo", "hi"}, cmd.Args[len(cmd.Args)-3:])
	assert.Len(cmd.ExtraFiles, 2)
}
