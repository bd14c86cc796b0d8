package kernelapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// MountSpec is one mount(2) call: source onto target, of type fstype, with
// flags and freeform data options (exactly the shape an OCI bundle's
// linux.mounts[] entries arrive in, after C2 validation).
type MountSpec struct {
	Source      string
	Target      string
	FSType      string
	Flags       uintptr
	Options     string
	ReadOnly    bool
	Propagation string // "shared", "private", "slave", "unbindable", "" (leave alone)
}

var propagationFlags = map[string]uintptr{
	"shared":  unix.MS_SHARED,
	"private": unix.MS_PRIVATE,
	"slave":   unix.MS_SLAVE,
	"unbindable": unix.MS_UNBINDABLE,
}

// Mount performs one mount(2) call, returning a KernelError on failure. It
// does not create the target directory; callers that need "mkdir -p"
// semantics call EnsureDir first so that a failure to create a directory
// is distinguishable from a failure to mount into it.
func Mount(m MountSpec) error {
	if err := unix.Mount(m.Source, m.Target, m.FSType, m.Flags, m.Options); err != nil {
		return wrap("mount", err, fmt.Sprintf("%s -> %s (%s)", m.Source, m.Target, m.FSType))
	}

	if m.ReadOnly {
		if err := unix.Mount("", m.Target, "", m.Flags|unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return wrap("mount", err, fmt.Sprintf("remount %s readonly", m.Target))
		}
	}

	if m.Propagation != "" {
		flag, ok := propagationFlags[m.Propagation]
		if !ok {
			return wrap("mount", fmt.Errorf("unknown propagation type %q", m.Propagation), m.Target)
		}
		if err := unix.Mount("none", m.Target, "", flag, ""); err != nil {
			return wrap("mount", err, fmt.Sprintf("set propagation %s on %s", m.Propagation, m.Target))
		}
	}

	return nil
}

// BindMount bind-mounts source onto target, optionally read-only, the way
// container rootfs preparation binds the bundle's rootfs and any
// user-requested bind mounts.
func BindMount(source, target string, readOnly bool) error {
	return Mount(MountSpec{Source: source, Target: target, Flags: unix.MS_BIND, ReadOnly: readOnly})
}

// Unmount detaches the filesystem at target. If lazy, it uses MNT_DETACH so
// a busy mount does not block container teardown.
func Unmount(target string, lazy bool) error {
	flags := 0
	if lazy {
		flags = unix.MNT_DETACH
	}
	if err := unix.Unmount(target, flags); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrap("umount2", err, target)
	}
	return nil
}

// EnsureDir creates target (and parents) if it does not already exist,
// mirroring the "recursively create the destination" step bind-mount setup
// needs before the mount(2) call itself.
func EnsureDir(target string, perm os.FileMode) error {
	if err := os.MkdirAll(target, perm); err != nil {
		return wrap("mkdir", err, target)
	}
	return nil
}

// PivotRoot replaces the calling process's root with newRoot, stashing the
// old root under putOld (which must be a subdirectory of newRoot), then
// unmounts and removes putOld -- the standard pivot_root(2) dance used to
// seal a container into its own rootfs.
func PivotRoot(newRoot, putOldRelDir string) error {
	putOld := filepath.Join(newRoot, putOldRelDir)
	if err := EnsureDir(putOld, 0o700); err != nil {
		return err
	}

	// pivot_root(2) requires newRoot to be a mount point, and the common
	// bundle rootfs is just a directory: bind-mount it onto itself first.
	if err := unix.Mount(newRoot, newRoot, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return wrap("mount", err, "bind newRoot onto itself")
	}

	if err := unix.PivotRoot(newRoot, putOld); err != nil {
		return wrap("pivot_root", err, fmt.Sprintf("%s -> %s", newRoot, putOld))
	}

	if err := unix.Chdir("/"); err != nil {
		return wrap("chdir", err, "/")
	}

	oldRootInNewRoot := "/" + strings.TrimPrefix(putOldRelDir, "/")
	if err := unix.Unmount(oldRootInNewRoot, unix.MNT_DETACH); err != nil {
		return wrap("umount2", err, oldRootInNewRoot)
	}
	if err := os.RemoveAll(oldRootInNewRoot); err != nil {
		return wrap("rmdir", err, oldRootInNewRoot)
	}

	return nil
}
