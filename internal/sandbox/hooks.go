package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

// HookPhase names one of the six lifecycle hook points spec.md §4.3 lists.
type HookPhase string

const (
	HookPrestart        HookPhase = "prestart"
	HookCreateRuntime    HookPhase = "createRuntime"
	HookCreateContainer HookPhase = "createContainer"
	HookStartContainer  HookPhase = "startContainer"
	HookPoststart       HookPhase = "poststart"
	HookPoststop        HookPhase = "poststop"
)

// hooksMandatory says which phases abort container setup (and trigger
// unwind) on a non-zero exit. poststop hooks run during delete() where
// there is nothing left to unwind, so their failure is logged, not fatal.
var hooksMandatory = map[HookPhase]bool{
	HookPrestart:        true,
	HookCreateRuntime:    true,
	HookCreateContainer: true,
	HookStartContainer:  true,
	HookPoststart:       false,
	HookPoststop:        false,
}

const defaultHookTimeout = 10 * time.Second

// runHook executes a single OCI hook with a timeout, feeding it the OCI
// state as JSON on stdin the way runc and virtcontainers both invoke
// hooks. On a mandatory hook's non-zero exit this returns a HookFailed
// error the caller must treat as a setup failure (triggering unwind).
func runHook(ctx context.Context, phase HookPhase, h specs.Hook, state []byte) error {
	timeout := defaultHookTimeout
	if h.Timeout != nil {
		timeout = time.Duration(*h.Timeout) * time.Second
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(hctx, h.Path)
	if len(h.Args) > 0 {
		cmd.Args = h.Args // OCI hook args include argv[0]
	}
	cmd.Env = h.Env
	cmd.Stdin = bytes.NewReader(state)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if hctx.Err() == context.DeadlineExceeded {
		return &kataerr.DeadlineExceeded{Op: string(phase) + " hook " + h.Path}
	}
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		if hooksMandatory[phase] {
			return &kataerr.HookFailed{Name: h.Path, Exit: exitCode}
		}
		log.WithError(err).WithField("hook", h.Path).WithField("phase", phase).
			Warn("non-mandatory hook failed, continuing")
	}
	return nil
}

// runHooks runs every hook in a phase in order, stopping at the first
// failure of a mandatory phase.
func runHooks(ctx context.Context, phase HookPhase, hooks []specs.Hook, state []byte) error {
	for _, h := range hooks {
		if err := runHook(ctx, phase, h, state); err != nil {
			return err
		}
	}
	return nil
}
