package kernelapi

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// LoadSeccomp installs a pre-compiled BPF filter with seccomp(2). It must
// run after PR_SET_NO_NEW_PRIVS (or with CAP_SYS_ADMIN) and is always the
// last PreExecStep action, immediately before execve, so the loaded
// profile also governs the execve call itself.
func LoadSeccomp(profile *SeccompProfile) error {
	if profile == nil {
		return nil
	}

	prog := unix.SockFprog{
		Len:    uint16(len(profile.Filter)),
		Filter: &profile.Filter[0],
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return wrap("prctl(PR_SET_NO_NEW_PRIVS)", err, "")
	}

	_, _, errno := unix.Syscall(unix.SYS_SECCOMP, unix.SECCOMP_SET_MODE_FILTER, 0, uintptr(unsafe.Pointer(&prog)))
	if errno != 0 {
		return wrap("seccomp", errno, "")
	}
	return nil
}
