// Package sandbox implements the sandbox/container/process state machine
// (C3/C4 in the design): the process-wide Sandbox Manager and the
// per-container Container Engine it owns.
package sandbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
	"github.com/kata-containers/kata-agent-go/internal/ocispec"
)

var log = logrus.WithField("subsystem", "sandbox")

// SetLogger attaches contextual fields from the caller's logger, following
// the same setter convention every other package in this module uses.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
	kernelapi.SetLogger(log)
	ocispec.SetLogger(log)
}

// readiness enumerates the Sandbox's top-level lifecycle (spec.md §3).
type readiness int

const (
	readinessInitializing readiness = iota
	readinessReady
	readinessStopping
	readinessStopped
)

// Config carries create_sandbox's payload: the sandbox-wide policy applied
// before any container may be created.
type Config struct {
	Hostname            string
	AllowedCapabilities []string // nil/empty means "sandbox policy does not restrict"
	CgroupRoot          string   // base path containers' cgroups nest under; defaults to /kata if empty
	KernelModules       []string
	SandboxNetNSPath    string // "" means the sandbox runs in the root network namespace
}

// Sandbox is the process-wide Sandbox Manager (C4): the set of containers
// plus the device/storage tables and network namespace handle they share.
type Sandbox struct {
	ID string

	mu         sync.Mutex // guards readiness + containers map membership
	ready      readiness
	containers map[string]*Container

	devices  *DeviceTable
	storages *StorageTable

	cfg Config

	netns *guestNetNS

	oomEvents []string
}

// NewSandbox constructs a not-yet-created Sandbox record.
func NewSandbox(id string) *Sandbox {
	return &Sandbox{
		ID:         id,
		ready:      readinessInitializing,
		containers: make(map[string]*Container),
		devices:    newDeviceTable(),
		storages:   newStorageTable(),
	}
}

// CreateSandbox applies the sandbox-wide policy and transitions to ready.
// Idempotent calls (sandbox already ready or beyond) are AlreadyExists,
// matching spec.md §4.4's "creating twice is an error".
func (sb *Sandbox) CreateSandbox(ctx context.Context, cfg Config) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.ready != readinessInitializing {
		return &kataerr.AlreadyExists{Kind: "sandbox", ID: sb.ID}
	}

	if cfg.CgroupRoot == "" {
		cfg.CgroupRoot = "/kata"
	}
	sb.cfg = cfg

	if err := kernelapi.BringUpLoopback(); err != nil {
		return err
	}

	if cfg.SandboxNetNSPath != "" {
		ns, err := openGuestNetNS(cfg.SandboxNetNSPath)
		if err != nil {
			return err
		}
		sb.netns = ns
	}

	sb.ready = readinessReady
	log.WithField("sandbox", sb.ID).Info("sandbox ready")
	return nil
}

// DestroySandbox tears down every container (refusing unless force is set
// when any remain) and releases sandbox-wide resources in reverse order of
// setup, matching invariant 7 (spec.md §8): nothing guest-side created by
// the supervisor survives a successful DestroySandbox.
func (sb *Sandbox) DestroySandbox(ctx context.Context, force bool) error {
	sb.mu.Lock()
	if sb.ready == readinessStopped {
		sb.mu.Unlock()
		return nil
	}
	if len(sb.containers) > 0 && !force {
		sb.mu.Unlock()
		return &kataerr.PermissionDenied{Reason: "containers remain; pass force to override"}
	}
	sb.ready = readinessStopping
	containers := make([]*Container, 0, len(sb.containers))
	for _, c := range sb.containers {
		containers = append(containers, c)
	}
	sb.mu.Unlock()

	for _, c := range containers {
		if c.State() != StateStopped {
			_ = c.Stop(ctx, true)
		}
		if err := c.Delete(ctx, sb); err != nil {
			log.WithError(err).WithField("container", c.ID).Warn("force-delete during sandbox teardown reported an error")
		}
		sb.mu.Lock()
		delete(sb.containers, c.ID)
		sb.mu.Unlock()
	}

	sb.storages.mu.Lock()
	for id, s := range sb.storages.storages {
		if err := kernelapi.Unmount(s.Target, true); err != nil {
			log.WithError(err).WithField("storage", id).Warn("unmounting storage during sandbox teardown reported an error")
		}
		delete(sb.storages.storages, id)
	}
	sb.storages.mu.Unlock()

	if sb.netns != nil {
		if err := sb.netns.Close(); err != nil {
			log.WithError(err).Warn("closing sandbox network namespace reported an error")
		}
	}

	sb.mu.Lock()
	sb.ready = readinessStopped
	sb.mu.Unlock()
	return nil
}

// requireReady returns an error unless the sandbox has completed
// CreateSandbox, the prerequisite spec.md §4.6 requires of "most RPCs".
func (sb *Sandbox) requireReady() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.ready != readinessReady {
		return &kataerr.BadState{Op: "sandbox operation", Current: readinessName(sb.ready), Expected: "ready"}
	}
	return nil
}

func readinessName(r readiness) string {
	switch r {
	case readinessInitializing:
		return "initializing"
	case readinessReady:
		return "ready"
	case readinessStopping:
		return "stopping"
	case readinessStopped:
		return "stopped"
	}
	return "unknown"
}

// CreateContainer validates the bundle, registers a new Container record,
// and runs its Create() state transition. The container is added to the
// sandbox map only once Create succeeds, so a failed create never leaves
// a dangling entry for ListProcesses/RemoveContainer to trip over
// (invariant 2, spec.md §8).
func (sb *Sandbox) CreateContainer(ctx context.Context, id string, bundle *ocispec.Bundle, ioCfg IOConfig) (*Container, error) {
	if err := sb.requireReady(); err != nil {
		return nil, err
	}

	sb.mu.Lock()
	if _, exists := sb.containers[id]; exists {
		sb.mu.Unlock()
		return nil, &kataerr.AlreadyExists{Kind: "container", ID: id}
	}
	sb.mu.Unlock()

	c := newContainer(id, sb.ID, bundle)
	if err := c.Create(ctx, sb, ioCfg); err != nil {
		return nil, err
	}

	sb.mu.Lock()
	sb.containers[id] = c
	sb.mu.Unlock()

	return c, nil
}

// Container looks up a container by ID.
func (sb *Sandbox) Container(id string) (*Container, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	c, ok := sb.containers[id]
	if !ok {
		return nil, &kataerr.NotFound{Kind: "container", ID: id}
	}
	return c, nil
}

// ListContainers returns every container currently registered, regardless
// of state, for ListProcesses-style diagnostics.
func (sb *Sandbox) ListContainers() []*Container {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	out := make([]*Container, 0, len(sb.containers))
	for _, c := range sb.containers {
		out = append(out, c)
	}
	return out
}

// RemoveContainer runs Delete() and, only on success, drops the container
// from the sandbox map -- a failed RemoveContainer may leave the container
// stopped with its resources still held, exactly as spec.md §7 describes,
// so the caller can retry.
func (sb *Sandbox) RemoveContainer(ctx context.Context, id string) error {
	c, err := sb.Container(id)
	if err != nil {
		return err
	}

	if err := c.Delete(ctx, sb); err != nil {
		return err
	}

	sb.mu.Lock()
	delete(sb.containers, id)
	sb.mu.Unlock()
	return nil
}

// checkCapabilities enforces the sandbox-wide capability ceiling against a
// bundle about to be used for CreateContainer (spec.md §4.2).
func (sb *Sandbox) checkCapabilities(bundle *ocispec.Bundle) error {
	return bundle.CheckCapabilities(allowedCapsSet(sb.cfg.AllowedCapabilities))
}

// cgroupPath derives a container's cgroup hierarchy path from the
// sandbox's configured cgroup root.
func (sb *Sandbox) cgroupPath(containerID string) string {
	return filepath.Join(sb.cfg.CgroupRoot, containerID)
}

// ociState builds the OCI runtime state document (the JSON every hook
// receives on stdin, and what `state(id)` would report) for container id
// in the given status.
func (sb *Sandbox) ociState(containerID, status string) []byte {
	c, err := sb.Container(containerID)
	var pid int
	var bundlePath string
	if err == nil {
		bundlePath = c.Bundle.Path
		if c.init != nil {
			pid = c.init.Pid
		}
	}

	state := specs.State{
		Version: specs.Version,
		ID:      containerID,
		Status:  status,
		Pid:     pid,
		Bundle:  bundlePath,
	}
	data, jsonErr := json.Marshal(&state)
	if jsonErr != nil {
		log.WithError(jsonErr).Warn("marshaling OCI state failed")
		return []byte("{}")
	}
	return data
}

// AddDevice records a hot-plugged device, blocking (bounded by timeout,
// falling back to defaultDeviceTimeout when zero) until its guest node
// appears for kinds that need kernel-side discovery.
func (sb *Sandbox) AddDevice(ctx context.Context, d *Device, timeout time.Duration) error {
	return sb.devices.Add(ctx, d, timeout)
}

// RemoveDevice drops a device binding.
func (sb *Sandbox) RemoveDevice(id string) error {
	return sb.devices.Remove(id)
}

// Device looks up a device binding by ID.
func (sb *Sandbox) Device(id string) (*Device, error) {
	return sb.devices.Get(id)
}

// AddStorage mounts (or bumps the refcount of) a storage binding.
func (sb *Sandbox) AddStorage(s *Storage) error {
	return sb.storages.Add(s)
}

// RemoveStorage drops a reference to a storage binding, unmounting once
// the refcount reaches zero.
func (sb *Sandbox) RemoveStorage(id string) error {
	return sb.storages.Remove(id)
}

// Storage looks up a storage binding by ID.
func (sb *Sandbox) Storage(id string) (*Storage, error) {
	return sb.storages.Get(id)
}
