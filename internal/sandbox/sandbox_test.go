package sandbox

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

func TestRequireReadyRejectsBeforeCreateSandbox(t *testing.T) {
	sb := NewSandbox("sb-1")
	err := sb.requireReady()
	assert.IsType(t, &kataerr.BadState{}, err)
}

func TestCreateSandboxDefaultsCgroupRoot(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("bringing up loopback requires root/CAP_NET_ADMIN")
	}
	require := require.New(t)
	assert := assert.New(t)

	sb := NewSandbox("sb-1")
	require.NoError(sb.CreateSandbox(context.Background(), Config{}))
	assert.Equal("/kata", sb.cfg.CgroupRoot)
	assert.NoError(sb.requireReady())
}

func TestCreateSandboxRejectsDoubleCreate(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("bringing up loopback requires root/CAP_NET_ADMIN")
	}
	require := require.New(t)

	sb := NewSandbox("sb-1")
	require.NoError(sb.CreateSandbox(context.Background(), Config{}))

	err := sb.CreateSandbox(context.Background(), Config{})
	assert.IsType(t, &kataerr.AlreadyExists{}, err)
}

func TestContainerLookupNotFound(t *testing.T) {
	sb := NewSandbox("sb-1")
	_, err := sb.Container("missing")
	assert.IsType(t, &kataerr.NotFound{}, err)
}

func TestCreateContainerRequiresReadySandbox(t *testing.T) {
	sb := NewSandbox("sb-1")
	_, err := sb.CreateContainer(context.Background(), "c1", nil, IOConfig{})
	assert.IsType(t, &kataerr.BadState{}, err)
}

func TestCreateContainerRejectsDuplicateID(t *testing.T) {
	sb := NewSandbox("sb-1")
	sb.ready = readinessReady
	sb.containers["c1"] = newContainer("c1", sb.ID, nil)

	_, err := sb.CreateContainer(context.Background(), "c1", nil, IOConfig{})
	assert.IsType(t, &kataerr.AlreadyExists{}, err)
}

func TestListContainersReturnsEveryRegisteredContainer(t *testing.T) {
	sb := NewSandbox("sb-1")
	sb.containers["a"] = newContainer("a", sb.ID, nil)
	sb.containers["b"] = newContainer("b", sb.ID, nil)

	assert.Len(t, sb.ListContainers(), 2)
}

func TestCgroupPathJoinsConfiguredRoot(t *testing.T) {
	sb := NewSandbox("sb-1")
	sb.cfg.CgroupRoot = "/kata"
	assert.Equal(t, "/kata/c1", sb.cgroupPath("c1"))
}

func TestDestroySandboxIsIdempotentWhenAlreadyStopped(t *testing.T) {
	sb := NewSandbox("sb-1")
	sb.ready = readinessStopped
	assert.NoError(t, sb.DestroySandbox(context.Background(), false))
}

func TestDestroySandboxRefusesWithContainersUnlessForced(t *testing.T) {
	sb := NewSandbox("sb-1")
	sb.ready = readinessReady
	sb.containers["c1"] = newTestContainer("c1", StateStopped)

	err := sb.DestroySandbox(context.Background(), false)
	assert.IsType(t, &kataerr.PermissionDenied{}, err)
}

func TestOciStateReportsUnknownContainerAsEmptyPid(t *testing.T) {
	sb := NewSandbox("sb-1")
	data := sb.ociState("missing", "creating")
	assert.Contains(t, string(data), `"status":"creating"`)
}
