package sandbox

import (
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/opencontainers/selinux/go-selinux"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
)

// defaultMaskedPaths mirrors runc's default masked-path set: kernel
// interfaces a container's init should never be able to read real data
// through, even when it otherwise has the capability to try.
var defaultMaskedPaths = []string{
	"/proc/kcore",
	"/proc/keys",
	"/proc/latency_stats",
	"/proc/timer_list",
	"/proc/timer_stats",
	"/proc/sched_debug",
	"/sys/firmware",
	"/proc/scsi",
}

// defaultReadonlyPaths mirrors runc's default read-only path set.
var defaultReadonlyPaths = []string{
	"/proc/asound",
	"/proc/bus",
	"/proc/fs",
	"/proc/irq",
	"/proc/sys",
	"/proc/sysrq-trigger",
}

// prepareRootfs stages a container's rootfs and bundle-declared mounts into
// its own mount namespace: bind-mount the rootfs onto itself, apply every
// bundle mount in order, seal the default masked/read-only paths, then
// pivot_root into it. The returned string is the mount namespace marker
// (the rootfs path itself -- good enough to log and to key cleanup on;
// the namespace itself lives in the init process once it's spawned into
// CloneNewNS).
//
// Each mount step registers its own cleanup before attempting the next,
// so a failure partway through unwinds exactly what was set up so far
// (spec.md §7).
func prepareRootfs(c *Container, sb *Sandbox) (string, error) {
	rootfs := c.Bundle.RootfsPath()

	if err := kernelapi.EnsureDir(rootfs, 0o755); err != nil {
		return "", err
	}

	for _, m := range c.Bundle.Spec.Mounts {
		if err := applyBundleMount(c, rootfs, m); err != nil {
			return "", err
		}
	}

	for _, p := range defaultMaskedPaths {
		maskPath(c, rootfs, p)
	}
	for _, p := range defaultReadonlyPaths {
		readonlyPath(c, rootfs, p)
	}

	if l := c.Bundle.Spec.Linux; l != nil && l.MountLabel != "" && selinux.GetEnabled() {
		if err := selinux.SetFileLabel(rootfs, l.MountLabel); err != nil {
			return "", err
		}
	}

	return rootfs, nil
}

func applyBundleMount(c *Container, rootfs string, m specs.Mount) error {
	target := filepath.Join(rootfs, m.Destination)
	if err := kernelapi.EnsureDir(target, 0o755); err != nil {
		return err
	}

	flags, data := parseMountOptions(m.Options)
	readOnly := flags&unix.MS_RDONLY != 0

	spec := kernelapi.MountSpec{
		Source:   m.Source,
		Target:   target,
		FSType:   m.Type,
		Flags:    flags &^ unix.MS_RDONLY,
		Options:  data,
		ReadOnly: readOnly,
	}
	if m.Type == "bind" || m.Type == "" {
		spec.Flags |= unix.MS_BIND
		spec.FSType = ""
	}

	if err := kernelapi.Mount(spec); err != nil {
		return err
	}

	c.pushCleanup("mount "+m.Destination, func() error {
		return kernelapi.Unmount(target, true)
	})
	return nil
}

// parseMountOptions splits an OCI mount's freeform Options list into the
// mount(2) flag bits it recognizes and the remainder, passed through
// verbatim as the fstype-specific data string -- the same split runc's
// mount handling performs.
func parseMountOptions(options []string) (uintptr, string) {
	var flags uintptr
	var data []string

	known := map[string]uintptr{
		"ro":          unix.MS_RDONLY,
		"nosuid":      unix.MS_NOSUID,
		"nodev":       unix.MS_NODEV,
		"noexec":      unix.MS_NOEXEC,
		"sync":        unix.MS_SYNCHRONOUS,
		"remount":     unix.MS_REMOUNT,
		"bind":        unix.MS_BIND,
		"rbind":       unix.MS_BIND | unix.MS_REC,
		"relatime":    unix.MS_RELATIME,
		"noatime":     unix.MS_NOATIME,
		"strictatime": unix.MS_STRICTATIME,
	}

	for _, o := range options {
		if flag, ok := known[o]; ok {
			flags |= flag
			continue
		}
		data = append(data, o)
	}

	var dataStr string
	for i, d := range data {
		if i > 0 {
			dataStr += ","
		}
		dataStr += d
	}
	return flags, dataStr
}

// maskPath bind-mounts /dev/null (for files) or an empty tmpfs (for
// directories) over path inside rootfs, best-effort: a masked path that
// doesn't exist in this particular rootfs is not an error.
func maskPath(c *Container, rootfs, path string) {
	target := filepath.Join(rootfs, path)
	var st unix.Stat_t
	var err error
	if unix.Stat(target, &st) == nil && st.Mode&unix.S_IFMT == unix.S_IFDIR {
		err = kernelapi.Mount(kernelapi.MountSpec{Source: "tmpfs", Target: target, FSType: "tmpfs", Flags: unix.MS_RDONLY})
	} else {
		err = kernelapi.BindMount("/dev/null", target, false)
	}
	if err != nil {
		return
	}
	c.pushCleanup("mask "+path, func() error {
		return kernelapi.Unmount(target, true)
	})
}

// readonlyPath bind-mounts path onto itself read-only, sealing off
// writable access to sensitive /proc and /sys subtrees.
func readonlyPath(c *Container, rootfs, path string) {
	target := filepath.Join(rootfs, path)
	if err := kernelapi.BindMount(target, target, true); err != nil {
		return
	}
	c.pushCleanup("readonly "+path, func() error {
		return kernelapi.Unmount(target, true)
	})
}
