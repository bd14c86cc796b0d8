package sandbox

import (
	"os"
	"strconv"
	"syscall"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
)

// spawnPending creates a container's init process: it builds the
// namespace/rlimit/capability setup from the bundle, allocates its stdio
// (pty or pipes per ioCfg), and spawns it blocked on a synchronization
// pipe -- nothing of the user command runs until Start() calls
// releaseSyncPipe. This is what lets create() finish (placing the process
// in its cgroup, running createContainer hooks) before the workload
// actually begins (spec.md §5).
func spawnPending(c *Container, sb *Sandbox, ioCfg IOConfig) (*Process, error) {
	proc, pspec, pty, err := buildProcessSpec(c, c.Bundle.Spec.Process, ioCfg)
	if err != nil {
		return nil, err
	}

	create, join, err := namespacesFromBundle(c.Bundle.Spec)
	if err != nil {
		return nil, err
	}
	pspec.CreateNamespaces = create
	pspec.JoinNamespaces = join

	syncRead, syncW, err := os.Pipe()
	if err != nil {
		closeJoined(join)
		return nil, &kataerr.KernelError{Syscall: "pipe", Errno: err, Context: "init sync pipe"}
	}
	pspec.PreExec.SyncPipe = syncRead

	spawned, err := kernelapi.Spawn(pspec)
	syncRead.Close()
	closeChildIOEnds(pspec)
	if err != nil {
		syncW.Close()
		if pty != nil {
			pty.Close()
		}
		return nil, err
	}

	proc.MarkRunning(spawned.Pid)
	proc.PTY = pty
	proc.syncWrite = syncW

	return proc, nil
}

// spawnExec spawns an auxiliary process joining the container's existing
// namespaces and cgroup. Unlike the init process it starts running
// immediately -- there is no pending state for execs (spec.md §5).
func spawnExec(c *Container, sb *Sandbox, execID string, spec *specs.Process, ioCfg IOConfig) (*Process, error) {
	proc, pspec, pty, err := buildProcessSpec(c, spec, ioCfg)
	if err != nil {
		return nil, err
	}
	proc.ID = execID

	join, err := joinContainerNamespaces(c)
	if err != nil {
		if pty != nil {
			pty.Close()
		}
		return nil, err
	}
	pspec.JoinNamespaces = join
	pspec.CgroupPath = c.cgroupPath

	spawned, err := kernelapi.Spawn(pspec)
	closeChildIOEnds(pspec)
	if err != nil {
		if pty != nil {
			pty.Close()
		}
		return nil, err
	}

	if err := c.cgroup.AddProcess(spawned.Pid); err != nil {
		_ = kernelapi.Signal(spawned.Pid, syscall.SIGKILL, false)
		return nil, err
	}

	proc.MarkRunning(spawned.Pid)
	proc.PTY = pty
	return proc, nil
}

// joinContainerNamespaces opens /proc/<initpid>/ns/<type> for every
// namespace the container's init occupies, so an exec session lands in
// exactly the same set.
func joinContainerNamespaces(c *Container) ([]kernelapi.NamespaceFD, error) {
	pid := c.init.Pid
	types := []kernelapi.NamespaceType{
		kernelapi.NamespacePID, kernelapi.NamespaceNet, kernelapi.NamespaceMount,
		kernelapi.NamespaceUTS, kernelapi.NamespaceIPC,
	}

	join := make([]kernelapi.NamespaceFD, 0, len(types))
	for _, t := range types {
		path := "/proc/" + strconv.Itoa(pid) + "/ns/" + string(t)
		f, err := os.Open(path)
		if err != nil {
			closeJoined(join)
			return nil, &kataerr.KernelError{Syscall: "open", Errno: err, Context: path}
		}
		join = append(join, kernelapi.NamespaceFD{Type: t, FD: f})
	}
	return join, nil
}

// buildProcessSpec translates an OCI process plus ioCfg into a
// kernelapi.ProcessSpec and a not-yet-spawned Process record. It does not
// set namespaces or cgroup path -- callers (spawnPending/spawnExec) do
// that since the two differ (create vs. join, with/without the init's
// own cgroup).
func buildProcessSpec(c *Container, oci *specs.Process, ioCfg IOConfig) (*Process, *kernelapi.ProcessSpec, *kernelapi.PtyPair, error) {
	proc := NewProcess(c.ID)

	pspec := &kernelapi.ProcessSpec{
		Path: oci.Args[0],
		Args: oci.Args[1:],
		Env:  oci.Env,
		PreExec: kernelapi.PreExecStep{
			SetSessionLeader: ioCfg.Terminal,
			Chdir:            oci.Cwd,
			Capabilities:     capsFromOCI(oci.Capabilities),
			NoNewPrivs:       oci.NoNewPrivileges,
			Rlimits:          rlimitsFromOCI(oci.Rlimits),
			SelinuxLabel:     oci.SelinuxLabel,
		},
	}

	if oci.User.UID != 0 || oci.User.GID != 0 {
		uid, gid := oci.User.UID, oci.User.GID
		pspec.PreExec.Uid = &uid
		pspec.PreExec.Gid = &gid
	}
	pspec.PreExec.Groups = oci.User.AdditionalGids

	var pty *kernelapi.PtyPair
	if ioCfg.Terminal {
		p := ioCfg.PTY
		if p == nil {
			var err error
			p, err = kernelapi.NewPty(ioCfg.Rows, ioCfg.Cols)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		pty = p
		pspec.Stdin, pspec.Stdout, pspec.Stderr = p.Slave, p.Slave, p.Slave
		pspec.PreExec.SetControllingTTY = p.Slave
	} else {
		pspec.Stdin, pspec.Stdout, pspec.Stderr = ioCfg.Stdin, ioCfg.Stdout, ioCfg.Stderr
	}

	return proc, pspec, pty, nil
}

func rlimitsFromOCI(in []specs.POSIXRlimit) []kernelapi.Rlimit {
	if len(in) == 0 {
		return nil
	}
	out := make([]kernelapi.Rlimit, len(in))
	for i, r := range in {
		out[i] = kernelapi.Rlimit{Type: r.Type, Soft: r.Soft, Hard: r.Hard}
	}
	return out
}

// closeChildIOEnds closes the parent's handle on every fd that was handed
// to the child (pty slave, or the stream multiplexer's child-side pipe
// ends): once Spawn has forked, the child holds its own dup'd copy, and
// holding the original open here would leak it past the child's lifetime
// and confuse EOF detection on the multiplexer's read side.
func closeChildIOEnds(pspec *kernelapi.ProcessSpec) {
	if pspec.Stdin != nil {
		pspec.Stdin.Close()
	}
	if pspec.Stdout != nil && pspec.Stdout != pspec.Stdin {
		pspec.Stdout.Close()
	}
	if pspec.Stderr != nil && pspec.Stderr != pspec.Stdin && pspec.Stderr != pspec.Stdout {
		pspec.Stderr.Close()
	}
}

func closeJoined(join []kernelapi.NamespaceFD) {
	for _, ns := range join {
		ns.FD.Close()
	}
}

// releaseSyncPipe writes a single byte to the init process's
// synchronization pipe, letting it proceed past its blocking read and on
// to seccomp load + execve.
func releaseSyncPipe(init *Process) error {
	if init.syncWrite == nil {
		return nil
	}
	_, err := init.syncWrite.Write([]byte{0})
	init.syncWrite.Close()
	init.syncWrite = nil
	return err
}
