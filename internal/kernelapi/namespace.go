package kernelapi

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenNamespace opens /proc/<pid>/ns/<type> for later use as a
// NamespaceFD passed to Spawn's JoinNamespaces, or for direct setns calls
// made by the sandbox manager itself (e.g. re-entering the sandbox netns
// to run an interface/route RPC).
func OpenNamespace(pid int, nsType NamespaceType) (*os.File, error) {
	path := fmt.Sprintf("/proc/%d/ns/%s", pid, nsType)
	f, err := os.Open(path)
	if err != nil {
		return nil, wrap("open", err, path)
	}
	return f, nil
}

// EnterNamespace calls setns(2) on the calling thread, unparking its
// current membership of nsType. Callers that exercise this directly (as
// opposed to via the Spawn/nsenter path) are expected to have already
// locked themselves to an OS thread with runtime.LockOSThread, since a
// namespace change applies per-thread.
func EnterNamespace(fd *os.File, nsType NamespaceType) error {
	if err := unix.Setns(int(fd.Fd()), nsenterFlag(nsType)); err != nil {
		return wrap("setns", err, string(nsType))
	}
	return nil
}

// Unshare creates new namespaces for the calling thread without forking,
// used by the sandbox manager to give itself a private mount namespace for
// the shared rootfs work it does outside of any single container (e.g.
// staging a hot-plugged device's filesystem before a container references
// it).
func Unshare(flags NamespaceFlags) error {
	if err := unix.Unshare(int(flags)); err != nil {
		return wrap("unshare", err, "")
	}
	return nil
}

// BringUpLoopback configures and brings up the loopback interface, used by
// C7 bootstrap and by CreateSandbox when no host-supplied network
// configuration contradicts it.
func BringUpLoopback() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return wrap("socket", err, "")
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq("lo")
	if err != nil {
		return wrap("ifreq", err, "lo")
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return wrap("ioctl(SIOCGIFFLAGS)", err, "lo")
	}
	flags, err := ifr.Flags()
	if err != nil {
		return wrap("ifreq.flags", err, "lo")
	}
	if err := ifr.SetFlags(flags | unix.IFF_UP); err != nil {
		return wrap("ifreq.setflags", err, "lo")
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return wrap("ioctl(SIOCSIFFLAGS)", err, "lo")
	}
	return nil
}
