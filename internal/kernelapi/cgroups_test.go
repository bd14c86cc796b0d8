package kernelapi

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoCgroupsV1(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("cgroup hierarchy creation requires root")
	}
	if _, err := os.Stat("/sys/fs/cgroup/memory"); err != nil {
		t.Skip("no cgroup v1 memory hierarchy mounted in this environment")
	}
}

func TestCgroupLifecycle(t *testing.T) {
	skipIfNoCgroupsV1(t)
	require := require.New(t)
	assert := assert.New(t)

	path := "/kata-agent-go-test/" + t.Name()
	cg, err := NewCgroup(path, nil)
	require.NoError(err)
	defer cg.Delete()

	assert.Equal(path, cg.Path())

	cmd := exec.Command("sleep", "5")
	require.NoError(cmd.Start())
	defer cmd.Process.Kill()

	require.NoError(cg.AddProcess(cmd.Process.Pid))

	pids, err := cg.Processes()
	require.NoError(err)
	assert.Contains(pids, cmd.Process.Pid)

	stat, err := cg.Stat()
	require.NoError(err)
	assert.NotNil(stat)

	require.NoError(cg.Delete())
	assert.NoError(cg.Delete(), "delete is idempotent")
}

func TestLoadCgroupMissingFails(t *testing.T) {
	skipIfNoCgroupsV1(t)
	_, err := LoadCgroup("/kata-agent-go-test/does-not-exist")
	assert.Error(t, err)
}
