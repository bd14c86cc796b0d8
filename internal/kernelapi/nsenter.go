package kernelapi

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/opencontainers/selinux/go-selinux"
	"golang.org/x/sys/unix"
)

// RunNsenterHelper is the entry point cmd/kata-agent-go dispatches to when
// re-exec'd as the "__kata_agent_nsenter" subcommand (see
// wrapWithInitHelper). Argv carries, in order: zero or more "<type>=<fd>"
// tokens to setns(2) into, an optional "setup=<fd>" token naming a pipe fd
// carrying a JSON-encoded execSetup to apply, an optional "sync=<fd>" token
// naming a pipe fd to block on, a "--", and finally the real command and
// its arguments.
//
// Running all of this from a just-forked, single-threaded child is what
// makes entering a mount or user namespace safe (Go forbids setns into a
// namespace type that affects threads already alive in a multithreaded
// process), and what lets the sync-pipe wait block without any of the
// parent's other goroutines racing it.
func RunNsenterHelper(argv []string) error {
	i := 0
	for ; i < len(argv); i++ {
		if argv[i] == "--" {
			i++
			break
		}

		key, fdStr, ok := strings.Cut(argv[i], "=")
		if !ok {
			return fmt.Errorf("malformed nsenter arg %q", argv[i])
		}
		fd, err := strconv.Atoi(fdStr)
		if err != nil {
			return fmt.Errorf("malformed fd in nsenter arg %q: %w", argv[i], err)
		}

		switch {
		case key == "setup":
			if err := applySetupFD(fd); err != nil {
				return err
			}
		case key == "sync":
			if err := waitSyncFD(fd); err != nil {
				return err
			}
		default:
			if err := unix.Setns(fd, nsenterFlag(NamespaceType(key))); err != nil {
				return wrap("setns", err, key)
			}
			os.NewFile(uintptr(fd), key).Close()
		}
	}

	if i >= len(argv) {
		return fmt.Errorf("nsenter: missing command after --")
	}

	// No sync token means there was nothing to wait for (an exec into a
	// running container, not an init process) -- any pending seccomp
	// filter still needs loading right before execve.
	if pendingSeccomp != nil && !seccompLoaded {
		if err := LoadSeccomp(pendingSeccomp); err != nil {
			return err
		}
	}

	if pendingSelinuxLabel != "" {
		if err := selinux.SetExecLabel(pendingSelinuxLabel); err != nil {
			return wrap("setexeccon", err, pendingSelinuxLabel)
		}
	}

	path, err := lookPath(argv[i])
	if err != nil {
		return err
	}

	return unix.Exec(path, argv[i:], os.Environ())
}

// applySetupFD reads and applies the execSetup JSON blob from fd: full
// capability sets and rlimits go on immediately; the seccomp filter, if
// any, is stashed and applied by waitSyncFD (or, if there's no sync token,
// by RunNsenterHelper itself once every token has been processed).
func applySetupFD(fd int) error {
	f := os.NewFile(uintptr(fd), "exec-setup")
	defer f.Close()

	var setup execSetup
	if err := json.NewDecoder(f).Decode(&setup); err != nil {
		return fmt.Errorf("decode exec setup: %w", err)
	}

	if err := ApplyCapabilities(setup.Capabilities); err != nil {
		return err
	}
	if err := ApplyRlimits(setup.Rlimits); err != nil {
		return err
	}

	pendingSeccomp = setup.Seccomp
	pendingSelinuxLabel = setup.SelinuxLabel
	return nil
}

// pendingSeccomp holds a seccomp profile decoded by applySetupFD until
// it's time to load it, which is always the very last thing before
// execve -- loading it any earlier would make the remaining setup steps
// subject to the filter too. pendingSelinuxLabel is the same idea for the
// exec label: setexeccon only affects the next execve in this thread, so
// it has to be set right before unix.Exec runs.
var (
	pendingSeccomp      *SeccompProfile
	seccompLoaded       bool
	pendingSelinuxLabel string
)

// waitSyncFD blocks on a single byte read from fd, the signal that the
// container's start() call released this process from its pending state,
// then loads any pending seccomp filter.
func waitSyncFD(fd int) error {
	f := os.NewFile(uintptr(fd), "sync-pipe")
	defer f.Close()

	var b [1]byte
	if _, err := f.Read(b[:]); err != nil {
		return wrap("read(sync pipe)", err, "")
	}

	seccompLoaded = true
	return LoadSeccomp(pendingSeccomp)
}

func nsenterFlag(t NamespaceType) int {
	switch t {
	case NamespacePID:
		return unix.CLONE_NEWPID
	case NamespaceNet:
		return unix.CLONE_NEWNET
	case NamespaceMount:
		return unix.CLONE_NEWNS
	case NamespaceUTS:
		return unix.CLONE_NEWUTS
	case NamespaceIPC:
		return unix.CLONE_NEWIPC
	case NamespaceUser:
		return unix.CLONE_NEWUSER
	case NamespaceCgroup:
		return unix.CLONE_NEWCGROUP
	}
	return 0
}

func lookPath(path string) (string, error) {
	if strings.Contains(path, "/") {
		return path, nil
	}
	for _, dir := range strings.Split(os.Getenv("PATH"), ":") {
		candidate := dir + "/" + path
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: not found in PATH", path)
}

// IsNsenterSubcommand reports whether argv[0] (conventionally os.Args[1])
// requests the nsenter helper, letting main() branch before doing any
// other initialization.
func IsNsenterSubcommand(arg string) bool {
	return arg == nsenterSubcommand
}
