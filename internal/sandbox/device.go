package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

// DeviceKind enumerates the hot-pluggable device kinds spec.md §3
// describes. Rather than a trait with one implementation per kind (the
// extensible-across-packages option design note C9 lists), this is a
// tagged variant switched on in DeviceTable.Add below:
// every kind is known at compile time and none of this needs to be
// extended by code outside this package.
type DeviceKind string

const (
	DeviceBlock      DeviceKind = "block"
	DeviceChar       DeviceKind = "char"
	DeviceVFIO       DeviceKind = "vfio"
	DeviceVhostUser  DeviceKind = "vhost-user"
	DeviceRNG        DeviceKind = "rng"
)

// DeviceReady is the readiness state of a Device binding.
type DeviceReady int

const (
	DevicePending DeviceReady = iota
	DeviceReadyState
)

// Device is a hot-plugged device binding: inserted by AddDevice, removed
// by RemoveDevice. Container rootfs setup does not read this table.
type Device struct {
	ID        string
	Kind      DeviceKind
	HostID    string // BDF, host path, or "major:minor"
	CDIName   string // optional CDI qualified name for VFIO devices
	GuestPath string
	Ready     DeviceReady

	// refs is a slot for counting containers that reference this
	// device's GuestPath; nothing in this package updates it, and
	// RemoveDevice succeeds regardless of its value.
	refs int
}

// DeviceTable owns the sandbox-wide device-ID -> Device map (spec.md §3),
// guarded by its own lock per spec.md §5 so concurrent AddDevice/RemoveDevice
// RPCs for distinct IDs never race the map.
type DeviceTable struct {
	mu      sync.Mutex
	devices map[string]*Device
}

func newDeviceTable() *DeviceTable {
	return &DeviceTable{devices: make(map[string]*Device)}
}

// Add records a new device binding and blocks (bounded by timeout) until
// its guest node appears, for kinds that require kernel-side discovery
// (block devices surfaced via udev). The blocking wait runs outside the
// table lock so concurrent Adds for distinct IDs don't serialize on it;
// the ID is checked again under the lock before inserting, so of two
// concurrent Adds for the same ID only one succeeds and the other gets
// AlreadyExists.
func (t *DeviceTable) Add(ctx context.Context, d *Device, timeout time.Duration) error {
	t.mu.Lock()
	_, exists := t.devices[d.ID]
	t.mu.Unlock()
	if exists {
		return &kataerr.AlreadyExists{Kind: "device", ID: d.ID}
	}

	switch d.Kind {
	case DeviceBlock, DeviceChar:
		if err := waitForNode(ctx, d.GuestPath, timeout); err != nil {
			return err
		}
	}

	d.Ready = DeviceReadyState

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.devices[d.ID]; exists {
		return &kataerr.AlreadyExists{Kind: "device", ID: d.ID}
	}
	t.devices[d.ID] = d
	return nil
}

// Remove drops the binding. A second removal of the same ID returns
// NotFound, matching the round-trip law in spec.md §8: (add, remove) are
// inverses and repeated removal is idempotent only in the sense of never
// corrupting state -- it still reports NotFound after the first.
func (t *DeviceTable) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.devices[id]; !ok {
		return &kataerr.NotFound{Kind: "device", ID: id}
	}
	delete(t.devices, id)
	return nil
}

// Get looks up a device by ID.
func (t *DeviceTable) Get(id string) (*Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[id]
	if !ok {
		return nil, &kataerr.NotFound{Kind: "device", ID: id}
	}
	return d, nil
}

// All returns every currently bound device, for diagnostics/GetGuestDetails.
func (t *DeviceTable) All() []*Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	return out
}

// waitForNode blocks until path exists, a fsnotify event creates it, or
// timeout/ctx elapses first. This is the defensible default the design
// notes call out as under-specified in the source (spec.md §9): a fixed
// window bounded by the caller's ctx, defaulting to defaultDeviceTimeout
// when the caller supplies zero.
func waitForNode(ctx context.Context, path string, timeout time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if timeout <= 0 {
		timeout = defaultDeviceTimeout
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &kataerr.KernelError{Syscall: "inotify_init", Errno: err}
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return &kataerr.KernelError{Syscall: "inotify_add_watch", Errno: err, Context: dir}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// A device may have appeared between the initial Stat and the watch
	// being armed; check once more now that we're guaranteed not to miss
	// a subsequent create event.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case ev := <-watcher.Events:
			if ev.Name == path && (ev.Op&fsnotify.Create) != 0 {
				return nil
			}
		case err := <-watcher.Errors:
			return &kataerr.KernelError{Syscall: "inotify", Errno: err, Context: dir}
		case <-deadline.C:
			return &kataerr.DeviceNotFound{DeviceID: filepath.Base(path), Path: path}
		case <-ctx.Done():
			return &kataerr.DeadlineExceeded{Op: fmt.Sprintf("add_device %s", path)}
		}
	}
}

// defaultDeviceTimeout is the default bound on waiting for a hot-plugged
// device's guest node to appear; configurable per spec.md §9's open
// question by passing a non-zero timeout to Add.
const defaultDeviceTimeout = 5 * time.Second
