// Package kernelapi is the thin, typed wrapper over the Linux syscalls the
// rest of the supervisor needs: namespace creation, mounting, cgroup
// writes, capability/rlimit application, seccomp loading, signal delivery,
// and process creation (C1 in the design). The adapter is stateless; every
// operation takes the state it needs as arguments and returns a typed
// error so callers never have to sniff an errno out of a generic error.
package kernelapi

import (
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

var log = logrus.WithField("subsystem", "kernelapi")

// SetLogger attaches contextual fields from the caller's logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

func wrap(syscallName string, err error, context string) error {
	if err == nil {
		return nil
	}
	return &kataerr.KernelError{Syscall: syscallName, Errno: err, Context: context}
}

// PreExecStep is one typed action to run in the child between namespace
// entry and execve. Describing the sequence as data (rather than as a
// closure) avoids carrying a Go closure across fork, which the runtime
// does not guarantee survives cleanly once the child is a single thread
// running async-signal-unsafe code paths.
type PreExecStep struct {
	SetSessionLeader bool
	SetControllingTTY *os.File
	Chdir             string
	// FDRedirects maps a target fd number (0,1,2,...) to the source fd
	// that should be dup2'd onto it in the child.
	FDRedirects map[int]uintptr
	// SeccompFilter, when non-nil, is loaded immediately before execve.
	SeccompFilter *SeccompProfile
	// Uid/Gid/Groups are applied after namespace entry, before execve.
	Uid    *uint32
	Gid    *uint32
	Groups []uint32
	// Capabilities to retain in the child; nil means "do not touch".
	Capabilities *Capabilities
	// Rlimits to apply before execve.
	Rlimits []Rlimit
	// NoNewPrivs sets PR_SET_NO_NEW_PRIVS.
	NoNewPrivs bool
	// SelinuxLabel, when set, is applied via setexeccon before execve so
	// the kernel transitions the process to this context on exec.
	SelinuxLabel string
	// SyncPipe, when set, is the read end of a pipe the child blocks on
	// (a single byte read) after the rest of PreExec has run and before
	// execve. This is how an init process sits in the "pending" state
	// (spec.md §5) until StartContainer writes its release byte.
	SyncPipe *os.File
}

// Capabilities mirrors the OCI process.capabilities sets, already resolved
// to their numeric CAP_* values by the caller (C2).
type Capabilities struct {
	Bounding    []uintptr
	Effective   []uintptr
	Inheritable []uintptr
	Permitted   []uintptr
	Ambient     []uintptr
}

// Rlimit is one POSIX resource limit to apply to the child.
type Rlimit struct {
	Type string // e.g. "RLIMIT_NOFILE"
	Soft uint64
	Hard uint64
}

// SeccompProfile is an opaque, pre-compiled BPF program plus its default
// action, handed to the adapter to load with seccomp(2) in the child.
type SeccompProfile struct {
	Filter        []unix.SockFilter
	DefaultErrno  uint32
}

// ProcessSpec describes a single call to the process-creation primitive.
type ProcessSpec struct {
	Path string
	Args []string
	Env  []string

	// Namespaces to join by fd (an existing container's namespaces) or to
	// create fresh (CLONE_NEW*) for an init process.
	JoinNamespaces   []NamespaceFD
	CreateNamespaces NamespaceFlags

	CgroupPath string
	PreExec    PreExecStep

	// Stdin/Stdout/Stderr are the parent-held ends of the pipes/pty the
	// child's 0/1/2 should be connected to; PreExec.FDRedirects is derived
	// from these by the caller.
	Stdin, Stdout, Stderr *os.File
}

// NamespaceFD names one existing namespace to enter via its /proc/<pid>/ns
// file descriptor.
type NamespaceFD struct {
	Type NamespaceType
	FD   *os.File
}

// NamespaceType enumerates the Linux namespace kinds the adapter manages.
type NamespaceType string

const (
	NamespacePID    NamespaceType = "pid"
	NamespaceNet    NamespaceType = "net"
	NamespaceMount  NamespaceType = "mnt"
	NamespaceUTS    NamespaceType = "uts"
	NamespaceIPC    NamespaceType = "ipc"
	NamespaceUser   NamespaceType = "user"
	NamespaceCgroup NamespaceType = "cgroup"
)

// NamespaceFlags is the CLONE_NEW* bitmask for namespaces to create fresh.
type NamespaceFlags uintptr

const (
	CloneNewPID     NamespaceFlags = unix.CLONE_NEWPID
	CloneNewNet     NamespaceFlags = unix.CLONE_NEWNET
	CloneNewNS      NamespaceFlags = unix.CLONE_NEWNS
	CloneNewUTS     NamespaceFlags = unix.CLONE_NEWUTS
	CloneNewIPC     NamespaceFlags = unix.CLONE_NEWIPC
	CloneNewUser    NamespaceFlags = unix.CLONE_NEWUSER
	CloneNewCgroup  NamespaceFlags = unix.CLONE_NEWCGROUP
)

// ChildSetupFailureExitCode is the distinguishable exit status a child
// reports when a PreExecStep fails before execve, so the parent's waiter
// can tell "setup failed" apart from "the user command exited with this
// code" (they never collide because user commands cannot choose this
// value through a crafted exit(2) without it still meaning the same
// thing: something in the contract broke).
const ChildSetupFailureExitCode = 127

// Signal sends signum to pid. "all" targets the process group instead of
// the single pid, used to fan a signal out to every process of a
// container.
func Signal(pid int, signum syscall.Signal, all bool) error {
	target := pid
	if all {
		target = -pid
	}
	if err := unix.Kill(target, signum); err != nil {
		return wrap("kill", err, "")
	}
	return nil
}

// Reap collects the exit status of pid without blocking, returning
// (found=false, nil) if the child has not exited yet.
func Reap(pid int) (found bool, exitCode int, signaled bool, signum syscall.Signal, err error) {
	var ws unix.WaitStatus
	got, werr := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if werr != nil {
		return false, 0, false, 0, wrap("wait4", werr, "")
	}
	if got != pid {
		return false, 0, false, 0, nil
	}
	if ws.Signaled() {
		return true, 0, true, ws.Signal(), nil
	}
	return true, ws.ExitStatus(), false, 0, nil
}
