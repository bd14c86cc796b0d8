package sandbox

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/kata-agent-go/internal/ocispec"
)

func TestParseMountOptionsSplitsFlagsFromData(t *testing.T) {
	assert := assert.New(t)

	flags, data := parseMountOptions([]string{"ro", "nosuid", "size=64m", "mode=1777"})
	assert.Equal(uintptr(unix.MS_RDONLY|unix.MS_NOSUID), flags)
	assert.Equal("size=64m,mode=1777", data)
}

func TestParseMountOptionsEmpty(t *testing.T) {
	flags, data := parseMountOptions(nil)
	assert.Equal(t, uintptr(0), flags)
	assert.Equal(t, "", data)
}

func TestParseMountOptionsRbindImpliesRecursive(t *testing.T) {
	flags, _ := parseMountOptions([]string{"rbind"})
	assert.Equal(t, uintptr(unix.MS_BIND|unix.MS_REC), flags)
}

func TestMaskPathIsBestEffortOnMissingTarget(t *testing.T) {
	c := newTestContainer("c1", StateCreating)
	maskPath(c, t.TempDir(), "/does/not/exist")
	assert.Empty(t, c.cleanups, "a target that can't be bind-mounted registers no cleanup")
}

func TestPrepareRootfsSkipsSelinuxLabelWhenDisabled(t *testing.T) {
	require := require.New(t)

	rootfs := t.TempDir()
	c := newTestContainer("c1", StateCreating)
	c.Bundle = &ocispec.Bundle{
		Path: t.TempDir(),
		Spec: &specs.Spec{
			Root:  &specs.Root{Path: rootfs},
			Linux: &specs.Linux{MountLabel: "system_u:object_r:container_file_t:s0"},
		},
	}

	// The test host almost never has SELinux enabled, so this exercises
	// prepareRootfs's label step taking the disabled no-op branch rather
	// than actually calling out to setfilecon.
	_, err := prepareRootfs(c, NewSandbox("sb-1"))
	require.NoError(err)
}
