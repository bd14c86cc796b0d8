// Package bootstrap implements Init/Bootstrap (C7): the guest-side
// startup sequence that runs before the Sandbox Manager starts accepting
// RPCs. When this process is PID 1 it owns the kernel-facing setup
// (pseudo-filesystems, /dev, loopback, kernel modules); when it is not,
// only the reaper is armed and everything else is left to the host.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
)

var log = logrus.WithField("subsystem", "bootstrap")

// SetLogger attaches contextual fields from the caller's logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// Config carries the pieces of sandbox configuration bootstrap needs
// before a CreateSandbox call exists to supply them: which kernel
// modules to load at startup.
type Config struct {
	KernelModules []string // paths to .ko files, loaded in order
}

// mounts lists the pseudo-filesystems spec.md §4.7 requires a PID-1
// agent to mount, in the order a normal Linux init performs them: /proc
// and /sys need no prerequisite, /dev/pts and /dev/shm need /dev
// already mounted, and /run is plain tmpfs for ephemeral sandbox state.
var mounts = []kernelapi.MountSpec{
	{Source: "proc", Target: "/proc", FSType: "proc"},
	{Source: "sysfs", Target: "/sys", FSType: "sysfs"},
	{Source: "devtmpfs", Target: "/dev", FSType: "devtmpfs"},
	{Source: "devpts", Target: "/dev/pts", FSType: "devpts", Options: "gid=5,mode=620,ptmxmode=666"},
	{Source: "tmpfs", Target: "/dev/shm", FSType: "tmpfs", Options: "mode=1777"},
	{Source: "tmpfs", Target: "/run", FSType: "tmpfs", Options: "mode=0755"},
}

// IsPID1 reports whether this process is the guest's init.
func IsPID1() bool {
	return os.Getpid() == 1
}

// Run performs the bootstrap sequence appropriate to this process's
// role and returns a shutdown func the caller runs once it decides to
// exit (after the RPC dispatcher itself has stopped accepting work).
func Run(ctx context.Context, cfg Config) (shutdown func(), err error) {
	if !IsPID1() {
		log.Info("not running as pid 1, skipping filesystem/module setup")
		return armTerminalSignals(ctx), nil
	}

	log.Info("running as pid 1, performing guest init")

	for _, m := range mounts {
		if err := kernelapi.EnsureDir(m.Target, 0o755); err != nil {
			return nil, err
		}
		if err := kernelapi.Mount(m); err != nil {
			return nil, err
		}
	}

	if err := kernelapi.BringUpLoopback(); err != nil {
		return nil, err
	}

	for _, mod := range cfg.KernelModules {
		if err := loadModule(mod); err != nil {
			log.WithError(err).WithField("module", mod).Warn("kernel module load failed, continuing")
		}
	}

	return armTerminalSignals(ctx), nil
}

// loadModule inserts a single kernel module from its .ko path via
// finit_module(2), the same syscall modprobe itself uses once it has
// resolved a module name to a file.
func loadModule(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.FinitModule(int(f.Fd()), "", 0)
}

// armTerminalSignals watches for SIGTERM/SIGINT and logs the first one to
// arrive; it does not stop anything itself, the caller's own signal
// handling drives the shutdown. It returns a func the caller
// invokes to stop watching once it has itself decided to exit, so a
// second signal during teardown does not leave the handler registered
// forever.
func armTerminalSignals(ctx context.Context) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("terminal signal received, shutting down")
		case <-ctx.Done():
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
