package ocispec

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

func minimalSpec() *specs.Spec {
	return &specs.Spec{
		Process: &specs.Process{Args: []string{"/bin/sh"}},
		Root:    &specs.Root{Path: "rootfs"},
	}
}

func TestLoadValidBundle(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	dir := t.TempDir()
	data, err := json.Marshal(minimalSpec())
	require.NoError(err)
	require.NoError(os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644))

	b, err := Load(dir)
	require.NoError(err)
	assert.Equal(dir, b.Path)
	assert.Equal([]string{"/bin/sh"}, b.Spec.Process.Args)
}

func TestLoadMissingConfigFails(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.IsType(t, &kataerr.InvalidSpec{}, err)
}

func TestValidateRejectsMissingProcess(t *testing.T) {
	b := &Bundle{Spec: &specs.Spec{Root: &specs.Root{Path: "rootfs"}}}
	err := b.Validate()
	assert.IsType(t, &kataerr.InvalidSpec{}, err)
}

func TestValidateRejectsEmptyArgs(t *testing.T) {
	spec := minimalSpec()
	spec.Process.Args = nil
	b := &Bundle{Spec: spec}
	assert.Error(t, b.Validate())
}

func TestValidateRejectsDuplicateNamespaces(t *testing.T) {
	spec := minimalSpec()
	spec.Linux = &specs.Linux{Namespaces: []specs.LinuxNamespace{
		{Type: specs.PIDNamespace},
		{Type: specs.PIDNamespace},
	}}
	b := &Bundle{Spec: spec}
	assert.Error(t, b.Validate())
}

func TestValidateRejectsBadMount(t *testing.T) {
	spec := minimalSpec()
	spec.Mounts = []specs.Mount{{Destination: "relative/path"}}
	b := &Bundle{Spec: spec}
	assert.Error(t, b.Validate())
}

func TestValidateAcceptsWellFormedBundle(t *testing.T) {
	spec := minimalSpec()
	spec.Mounts = []specs.Mount{{Destination: "/proc", Type: "proc", Source: "proc"}}
	b := &Bundle{Spec: spec}
	assert.NoError(t, b.Validate())
}

func TestCheckCapabilitiesRejectsDisallowed(t *testing.T) {
	spec := minimalSpec()
	spec.Process.Capabilities = &specs.LinuxCapabilities{Bounding: []string{"CAP_SYS_ADMIN"}}
	b := &Bundle{Spec: spec}

	err := b.CheckCapabilities(map[string]bool{"CAP_CHOWN": true})
	assert.IsType(t, &kataerr.PermissionDenied{}, err)
}

func TestCheckCapabilitiesNilAllowedPermitsAnything(t *testing.T) {
	spec := minimalSpec()
	spec.Process.Capabilities = &specs.LinuxCapabilities{Bounding: []string{"CAP_SYS_ADMIN"}}
	b := &Bundle{Spec: spec}

	assert.NoError(t, b.CheckCapabilities(nil))
}

func TestMemoryLimitBytesFromAnnotation(t *testing.T) {
	assert := assert.New(t)
	b := &Bundle{Spec: minimalSpec()}

	v, err := b.MemoryLimitBytes("256Mi")
	assert.NoError(err)
	assert.Equal(int64(256*1024*1024), v)
}

func TestMemoryLimitBytesFallsBackToResources(t *testing.T) {
	assert := assert.New(t)
	spec := minimalSpec()
	limit := int64(1024)
	spec.Linux = &specs.Linux{Resources: &specs.LinuxResources{Memory: &specs.LinuxMemory{Limit: &limit}}}
	b := &Bundle{Spec: spec}

	v, err := b.MemoryLimitBytes("")
	assert.NoError(err)
	assert.Equal(limit, v)
}

func TestRootfsPathResolvesRelativeToBundle(t *testing.T) {
	b := &Bundle{Path: "/bundles/c1", Spec: minimalSpec()}
	assert.Equal(t, "/bundles/c1/rootfs", b.RootfsPath())
}

func TestRootfsPathKeepsAbsolute(t *testing.T) {
	spec := minimalSpec()
	spec.Root.Path = "/abs/rootfs"
	b := &Bundle{Path: "/bundles/c1", Spec: spec}
	assert.Equal(t, "/abs/rootfs", b.RootfsPath())
}
