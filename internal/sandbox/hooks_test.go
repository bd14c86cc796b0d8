package sandbox

import (
	"context"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

func TestRunHookSucceeds(t *testing.T) {
	hook := specs.Hook{Path: "/bin/true"}
	assert.NoError(t, runHook(context.Background(), HookCreateRuntime, hook, []byte("{}")))
}

func TestRunHookMandatoryFailureIsHookFailed(t *testing.T) {
	hook := specs.Hook{Path: "/bin/false"}
	err := runHook(context.Background(), HookCreateRuntime, hook, []byte("{}"))
	assert.IsType(t, &kataerr.HookFailed{}, err)
}

func TestRunHookNonMandatoryFailureIsSwallowed(t *testing.T) {
	hook := specs.Hook{Path: "/bin/false"}
	err := runHook(context.Background(), HookPoststop, hook, []byte("{}"))
	assert.NoError(t, err)
}

func TestRunHookTimeoutExceeded(t *testing.T) {
	timeout := 1
	hook := specs.Hook{Path: "/bin/sleep", Args: []string{"/bin/sleep", "5"}, Timeout: &timeout}

	err := runHook(context.Background(), HookCreateRuntime, hook, []byte("{}"))
	assert.IsType(t, &kataerr.DeadlineExceeded{}, err)
}

func TestRunHooksStopsAtFirstMandatoryFailure(t *testing.T) {
	hooks := []specs.Hook{
		{Path: "/bin/true"},
		{Path: "/bin/false"},
		{Path: "/bin/true"},
	}

	err := runHooks(context.Background(), HookCreateContainer, hooks, []byte("{}"))
	assert.IsType(t, &kataerr.HookFailed{}, err)
}
