package kernelapi

import (
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// Spawned is what Spawn hands back to the caller: the pid as seen by the
// adapter (== as seen in the guest, since the adapter itself runs in the
// guest's root pid namespace or a container's) and the exec.Cmd that owns
// the process's lifetime bookkeeping.
type Spawned struct {
	Pid int
	cmd *exec.Cmd
}

// Spawn runs the process-creation primitive: it creates (or joins) the
// requested namespaces, applies PreExec, and execve's spec.Path. The
// contract with callers (C3) is that PreExec steps run in the child after
// namespace entry and before execve, and any failure among them terminates
// the child with ChildSetupFailureExitCode rather than leaking a half
// initialized process into the container's namespaces.
//
// Uid/Gid/Groups, session leader, controlling tty, NoNewPrivs and chdir are
// all things Go's os/exec already applies in the child before execve via
// SysProcAttr, so those go straight on the Cmd. Full capability sets,
// rlimits, seccomp and the init synchronization pipe are not -- applying
// those takes code actually running in the child, which means re-execing
// through wrapWithInitHelper below.
func Spawn(spec *ProcessSpec) (*Spawned, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr

	attr := &syscall.SysProcAttr{
		Cloneflags: uintptr(spec.CreateNamespaces),
		Setsid:     spec.PreExec.SetSessionLeader,
		Setctty:    spec.PreExec.SetControllingTTY != nil,
	}
	if spec.PreExec.Chdir != "" {
		cmd.Dir = spec.PreExec.Chdir
	}
	if spec.PreExec.NoNewPrivs {
		attr.NoNewPrivileges = true
	}
	if spec.PreExec.Uid != nil || spec.PreExec.Gid != nil {
		cred := &syscall.Credential{}
		if spec.PreExec.Uid != nil {
			cred.Uid = *spec.PreExec.Uid
		}
		if spec.PreExec.Gid != nil {
			cred.Gid = *spec.PreExec.Gid
		}
		cred.Groups = spec.PreExec.Groups
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr

	if needsHelper(spec) {
		wrapped, err := wrapWithInitHelper(cmd, spec)
		if err != nil {
			return nil, err
		}
		cmd = wrapped
	}

	if err := cmd.Start(); err != nil {
		return nil, wrap("clone", err, spec.Path)
	}

	return &Spawned{Pid: cmd.Process.Pid, cmd: cmd}, nil
}

// needsHelper reports whether any PreExec action requires code to run
// inside the child before execve, beyond what SysProcAttr already covers.
func needsHelper(spec *ProcessSpec) bool {
	return len(spec.JoinNamespaces) > 0 ||
		spec.PreExec.Capabilities != nil ||
		len(spec.PreExec.Rlimits) > 0 ||
		spec.PreExec.SeccompFilter != nil ||
		spec.PreExec.SelinuxLabel != "" ||
		spec.PreExec.SyncPipe != nil
}

// Release detaches the adapter's exec.Cmd bookkeeping from pid once the
// caller's own reaper (via signalfd/SIGCHLD) has taken over collecting its
// exit status, so the stdlib doesn't also try to Wait() on it.
func (s *Spawned) Release() error {
	return s.cmd.Process.Release()
}

// execSetup is the JSON payload handed to the re-exec'd helper over an
// extra pipe fd: everything PreExecStep carries that needs code running in
// the child and isn't itself an fd (namespaces and the sync pipe get their
// own argv tokens since passing those as data would be pointless).
type execSetup struct {
	Capabilities *Capabilities
	Rlimits      []Rlimit
	Seccomp      *SeccompProfile
	SelinuxLabel string
}

// wrapWithInitHelper re-execs this binary (via /proc/self/exe) as the
// "__kata_agent_nsenter" subcommand, which joins spec.JoinNamespaces,
// applies the capability/rlimit/seccomp setup passed over an extra fd,
// waits on the sync pipe if one was supplied, and only then execve's the
// real command. Running all of this in a freshly forked, single threaded
// child is what makes entering a mount or user namespace safe, and what
// lets the child block on the sync pipe without racing the parent's own
// goroutines.
func wrapWithInitHelper(cmd *exec.Cmd, spec *ProcessSpec) (*exec.Cmd, error) {
	args := []string{nsenterSubcommand}
	extraFiles := make([]*os.File, 0, len(spec.JoinNamespaces)+2)

	for _, ns := range spec.JoinNamespaces {
		args = append(args, string(ns.Type)+"="+strconv.Itoa(3+len(extraFiles)))
		extraFiles = append(extraFiles, ns.FD)
	}

	setup := execSetup{
		Capabilities: spec.PreExec.Capabilities,
		Rlimits:      spec.PreExec.Rlimits,
		Seccomp:      spec.PreExec.SeccompFilter,
		SelinuxLabel: spec.PreExec.SelinuxLabel,
	}
	if setup.Capabilities != nil || len(setup.Rlimits) > 0 || setup.Seccomp != nil || setup.SelinuxLabel != "" {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, wrap("pipe", err, "exec setup")
		}
		defer r.Close()
		go func() {
			defer w.Close()
			_ = json.NewEncoder(w).Encode(&setup)
		}()
		args = append(args, "setup="+strconv.Itoa(3+len(extraFiles)))
		extraFiles = append(extraFiles, r)
	}

	if spec.PreExec.SyncPipe != nil {
		args = append(args, "sync="+strconv.Itoa(3+len(extraFiles)))
		extraFiles = append(extraFiles, spec.PreExec.SyncPipe)
	}

	args = append(args, "--")
	args = append(args, spec.Path)
	args = append(args, spec.Args...)

	nsCmd := exec.Command("/proc/self/exe", args...)
	nsCmd.Env = cmd.Env
	nsCmd.Stdin, nsCmd.Stdout, nsCmd.Stderr = cmd.Stdin, cmd.Stdout, cmd.Stderr
	nsCmd.Dir = cmd.Dir
	nsCmd.SysProcAttr = cmd.SysProcAttr
	nsCmd.ExtraFiles = extraFiles
	return nsCmd, nil
}

const nsenterSubcommand = "__kata_agent_nsenter"
