package sandbox

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	multierror "github.com/hashicorp/go-multierror"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
	"github.com/kata-containers/kata-agent-go/internal/ocispec"
)

// ContainerState enumerates the per-container lifecycle spec.md §4.3
// draws: none -> creating -> created -> running -> {paused, stopped}.
type ContainerState string

const (
	StateCreating ContainerState = "creating"
	StateCreated  ContainerState = "created"
	StateRunning  ContainerState = "running"
	StatePaused   ContainerState = "paused"
	StateStopped  ContainerState = "stopped"
)

// validTransitions is the adjacency list the state field enforces; any
// call not reachable from the current state fails BadState without
// mutating anything (spec.md §8 invariant 5).
var validTransitions = map[ContainerState][]ContainerState{
	StateCreating: {StateCreated, StateStopped}, // StateStopped on create failure
	StateCreated:  {StateRunning, StateStopped},
	StateRunning:  {StatePaused, StateStopped},
	StatePaused:   {StateRunning, StateStopped},
	StateStopped:  {}, // terminal; only delete() may act on it, and delete removes the Container
}

// cleanupAction is one step of container teardown, retained in the reverse
// order it was performed in so create()'s rollback and delete() can run
// the exact inverse sequence.
type cleanupAction struct {
	name string
	fn   func() error
}

// Container is the per-container state machine (C3). Exactly one
// goroutine may run create/start/delete for a given container at a time;
// exec/signal/wait/stats/update may run concurrently with each other but
// never with pause/resume/stop/delete (spec.md §5).
type Container struct {
	ID     string
	Bundle *ocispec.Bundle

	mu          sync.Mutex // serializes create/start/delete
	callMu      sync.RWMutex // held shared by exec/signal/wait/stats/update, exclusive by pause/resume/stop/delete
	state       ContainerState
	init        *Process
	execs       map[string]*Process
	cgroupPath  string
	cgroup      *kernelapi.CgroupHandle
	mountNS     string
	cleanups    []cleanupAction
	fdsToForward []int
	waited      bool
	devices     []*Device

	sandboxID string
}

// newContainer builds a not-yet-created Container record.
func newContainer(id, sandboxID string, bundle *ocispec.Bundle) *Container {
	return &Container{
		ID:        id,
		sandboxID: sandboxID,
		Bundle:    bundle,
		state:     StateCreating,
		execs:     make(map[string]*Process),
	}
}

func (c *Container) transition(next ContainerState) error {
	for _, allowed := range validTransitions[c.state] {
		if allowed == next {
			c.state = next
			return nil
		}
	}
	return &kataerr.BadState{Op: string(next), Current: string(c.state), Expected: fmt.Sprintf("%v", validTransitions[c.state])}
}

// State returns the container's current lifecycle state.
func (c *Container) State() ContainerState {
	c.callMu.RLock()
	defer c.callMu.RUnlock()
	return c.state
}

// pushCleanup records a teardown action; Unwind and delete() run these in
// reverse order of registration, satisfying "destroying a container always
// unwinds in reverse of creation" (spec.md §3).
func (c *Container) pushCleanup(name string, fn func() error) {
	c.cleanups = append(c.cleanups, cleanupAction{name: name, fn: fn})
}

// unwind runs every registered cleanup in reverse order, aggregating
// failures with go-multierror rather than stopping at the first one, so a
// single stuck mount does not leave a cgroup or fd leaked behind it.
func (c *Container) unwind() error {
	var result *multierror.Error
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		action := c.cleanups[i]
		if err := action.fn(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "unwind step %q", action.name))
		}
	}
	c.cleanups = nil
	return result.ErrorOrNil()
}

// Create runs spec.md §4.3's create(): validate (already done by the
// caller via ocispec.Load/FromSpec), set up namespaces/mounts/cgroups, and
// spawn the init process pending on its sync pipe. On any error, whatever
// was set up so far unwinds in reverse and the originating error -- not
// any unwind failure -- is what's reported (spec.md §7).
func (c *Container) Create(ctx context.Context, sb *Sandbox, ioCfg IOConfig) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCreating {
		return &kataerr.BadState{Op: "create", Current: string(c.state), Expected: "creating"}
	}

	defer func() {
		if err != nil {
			if uerr := c.unwind(); uerr != nil {
				log.WithError(uerr).WithField("container", c.ID).Warn("unwind after failed create reported additional errors")
			}
			c.state = StateStopped
		}
	}()

	if err = sb.checkCapabilities(c.Bundle); err != nil {
		return err
	}

	if err = runHooks(ctx, HookCreateRuntime, c.Bundle.Spec.Hooks.CreateRuntime, sb.ociState(c.ID, "creating")); err != nil {
		return err
	}

	mnt, err := prepareRootfs(c, sb)
	if err != nil {
		return err
	}
	c.mountNS = mnt

	c.cgroupPath = sb.cgroupPath(c.ID)
	resources := linuxResources(c.Bundle.Spec)
	cg, err := kernelapi.NewCgroup(c.cgroupPath, resources)
	if err != nil {
		return err
	}
	c.cgroup = cg
	c.pushCleanup("cgroup", cg.Delete)
	sb.watchOOM(c.ID, cg)

	if err = runHooks(ctx, HookCreateContainer, c.Bundle.Spec.Hooks.CreateContainer, sb.ociState(c.ID, "creating")); err != nil {
		return err
	}

	init, err := spawnPending(c, sb, ioCfg)
	if err != nil {
		return err
	}
	c.init = init
	c.pushCleanup("init process", func() error {
		if c.init.Pid > 0 {
			return kernelapi.Signal(c.init.Pid, syscall.SIGKILL, false)
		}
		return nil
	})

	if err = c.cgroup.AddProcess(init.Pid); err != nil {
		return err
	}

	processReaper.Watch(init.Pid, init, func(ExitState) {
		_ = c.Stop(ctx, true)
	})

	return c.transition(StateCreated)
}

// Start unblocks the init's synchronization pipe (letting it execve) and
// transitions to running. Valid only in created.
func (c *Container) Start(ctx context.Context, sb *Sandbox) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCreated {
		return &kataerr.BadState{Op: "start", Current: string(c.state), Expected: "created"}
	}

	if err := runHooks(ctx, HookStartContainer, c.Bundle.Spec.Hooks.StartContainer, sb.ociState(c.ID, "created")); err != nil {
		return err
	}

	if err := releaseSyncPipe(c.init); err != nil {
		_ = c.Stop(ctx, true)
		return err
	}

	if err := c.transition(StateRunning); err != nil {
		return err
	}

	go runPoststart(ctx, sb, c)
	return nil
}

func runPoststart(ctx context.Context, sb *Sandbox, c *Container) {
	if err := runHooks(ctx, HookPoststart, c.Bundle.Spec.Hooks.Poststart, sb.ociState(c.ID, "running")); err != nil {
		log.WithError(err).WithField("container", c.ID).Warn("poststart hook failed")
	}
}

// Exec spawns an auxiliary process sharing the container's namespaces and
// cgroups, valid in running or created; exec in created is not gated by
// any sandbox policy setting. It acquires callMu for reading since it must not run
// concurrently with delete but may run alongside signal/wait/stats.
func (c *Container) Exec(ctx context.Context, sb *Sandbox, execID string, spec *specs.Process, ioCfg IOConfig) (*Process, error) {
	c.callMu.RLock()
	defer c.callMu.RUnlock()

	if c.state != StateRunning && c.state != StateCreated {
		return nil, &kataerr.BadState{Op: "exec", Current: string(c.state), Expected: "running or created"}
	}
	if _, exists := c.execs[execID]; exists {
		return nil, &kataerr.AlreadyExists{Kind: "exec", ID: execID}
	}

	proc, err := spawnExec(c, sb, execID, spec, ioCfg)
	if err != nil {
		return nil, err
	}

	processReaper.Watch(proc.Pid, proc, nil)

	c.execs[execID] = proc
	return proc, nil
}

// Signal delivers signum to the container's init (execID == "") or to a
// specific exec session.
func (c *Container) Signal(ctx context.Context, execID string, signum syscall.Signal, all bool) error {
	c.callMu.RLock()
	proc, err := c.findProcess(execID)
	c.callMu.RUnlock()
	if err != nil {
		return err
	}
	return kernelapi.Signal(proc.Pid, signum, all)
}

func (c *Container) findProcess(execID string) (*Process, error) {
	if execID == "" {
		if c.init == nil {
			return nil, &kataerr.NotFound{Kind: "exec", ID: execID}
		}
		return c.init, nil
	}
	proc, ok := c.execs[execID]
	if !ok {
		return nil, &kataerr.NotFound{Kind: "exec", ID: execID}
	}
	return proc, nil
}

// Wait registers (or immediately resolves) a waiter for the designated
// process.
func (c *Container) Wait(ctx context.Context, execID string) (<-chan ExitState, error) {
	c.callMu.RLock()
	proc, err := c.findProcess(execID)
	c.callMu.RUnlock()
	if err != nil {
		return nil, err
	}
	return proc.Wait(), nil
}

// Process looks up the container's init (execID == "") or a named exec
// session, for callers that need the Process itself (stdio plumbing,
// resize) rather than just a result of acting on it.
func (c *Container) Process(execID string) (*Process, error) {
	c.callMu.RLock()
	defer c.callMu.RUnlock()
	return c.findProcess(execID)
}

// Processes lists every process this container currently tracks: the
// init plus any live exec sessions, for ListProcesses diagnostics.
func (c *Container) Processes() []*Process {
	c.callMu.RLock()
	defer c.callMu.RUnlock()

	procs := make([]*Process, 0, 1+len(c.execs))
	if c.init != nil {
		procs = append(procs, c.init)
	}
	for _, p := range c.execs {
		procs = append(procs, p)
	}
	return procs
}

// Pause freezes the container's cgroup; valid only in running.
func (c *Container) Pause(ctx context.Context) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.state != StateRunning {
		return &kataerr.BadState{Op: "pause", Current: string(c.state), Expected: "running"}
	}
	if err := c.cgroup.Freeze(); err != nil {
		return err
	}
	return c.transition(StatePaused)
}

// Resume thaws the container's cgroup; valid only in paused.
func (c *Container) Resume(ctx context.Context) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.state != StatePaused {
		return &kataerr.BadState{Op: "resume", Current: string(c.state), Expected: "paused"}
	}
	if err := c.cgroup.Thaw(); err != nil {
		return err
	}
	return c.transition(StateRunning)
}

// Update applies new cgroup resource values via CgroupHandle.Update. The
// write is not atomic: on failure, values written before the failing
// subsystem stay in effect.
func (c *Container) Update(ctx context.Context, resources *specs.LinuxResources) error {
	c.callMu.RLock()
	defer c.callMu.RUnlock()

	if c.state != StateRunning && c.state != StateCreated {
		return &kataerr.BadState{Op: "update", Current: string(c.state), Expected: "running or created"}
	}
	return c.cgroup.Update(resources)
}

// Stats reads the container's cgroup counters.
func (c *Container) Stats(ctx context.Context) (*ContainerStats, error) {
	c.callMu.RLock()
	defer c.callMu.RUnlock()

	m, err := c.cgroup.Stat()
	if err != nil {
		return nil, err
	}
	return statsFromCgroup(m), nil
}

// Stop transitions to stopped, used both when the init process exits on
// its own (observed by the reaper) and when the dispatcher forces a stop.
func (c *Container) Stop(ctx context.Context, force bool) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.state == StateStopped {
		return nil
	}
	if err := c.transition(StateStopped); err != nil && !force {
		return err
	}
	c.state = StateStopped
	return nil
}

// Delete runs poststop hooks, tears down what Create registered (mounts,
// cgroup, init process) in reverse of creation, and reports success only once every trace of the container
// is gone (spec.md §8 invariant 2). Valid only in stopped; mutually
// exclusive with create/start (same c.mu) and with exec/signal/wait/stats
// (c.callMu taken exclusively).
func (c *Container) Delete(ctx context.Context, sb *Sandbox) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.state != StateStopped {
		return &kataerr.BadState{Op: "delete", Current: string(c.state), Expected: "stopped"}
	}

	if err := c.init.ExitOrNotSpawned(); err != nil {
		return err
	}

	if err := runHooks(ctx, HookPoststop, c.Bundle.Spec.Hooks.Poststop, sb.ociState(c.ID, "stopped")); err != nil {
		log.WithError(err).WithField("container", c.ID).Warn("poststop hook failed")
	}

	return c.unwind()
}

// linuxResources extracts the bundle's cgroup resource block, defaulting
// to an empty (kernel-default) set when the bundle doesn't specify one.
func linuxResources(spec *specs.Spec) *specs.LinuxResources {
	if spec.Linux == nil || spec.Linux.Resources == nil {
		return &specs.LinuxResources{}
	}
	return spec.Linux.Resources
}
