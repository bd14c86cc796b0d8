package kernelapi

import (
	"fmt"

	"github.com/containerd/cgroups"
	"github.com/containerd/cgroups/stats/v1"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

// CgroupHandle is the adapter's view of a single container's cgroup
// hierarchy. It wraps containerd/cgroups' Cgroup so callers never touch a
// raw cgroupfs path directly.
type CgroupHandle struct {
	path string
	cg   cgroups.Cgroup
}

// NewCgroup creates (or re-opens) the cgroup hierarchy at path with the
// given initial resources. An empty resources applies kernel defaults.
func NewCgroup(path string, resources *specs.LinuxResources) (*CgroupHandle, error) {
	cg, err := cgroups.New(cgroups.V1, cgroups.StaticPath(path), resources)
	if err != nil {
		return nil, wrap("cgroup.create", err, path)
	}
	return &CgroupHandle{path: path, cg: cg}, nil
}

// LoadCgroup re-attaches to an already-created cgroup hierarchy, used when
// an exec process joins an already-running container's cgroups.
func LoadCgroup(path string) (*CgroupHandle, error) {
	cg, err := cgroups.Load(cgroups.V1, cgroups.StaticPath(path))
	if err != nil {
		return nil, wrap("cgroup.load", err, path)
	}
	return &CgroupHandle{path: path, cg: cg}, nil
}

// Path returns the cgroup's hierarchy path.
func (h *CgroupHandle) Path() string { return h.path }

// AddProcess places pid's threads into every subsystem this hierarchy
// spans.
func (h *CgroupHandle) AddProcess(pid int) error {
	if err := h.cg.Add(cgroups.Process{Pid: pid}); err != nil {
		return wrap("cgroup.add", err, fmt.Sprintf("%s pid=%d", h.path, pid))
	}
	return nil
}

// Update applies new resource values through containerd/cgroups, which
// writes one subsystem's files after another. It is not atomic: if a
// later write fails, the values already written by earlier ones stay in
// effect.
func (h *CgroupHandle) Update(resources *specs.LinuxResources) error {
	if err := h.cg.Update(resources); err != nil {
		return &kataerr.ResourceExhausted{Resource: h.path, Reason: err.Error()}
	}
	return nil
}

// Stat reads the hierarchy's counters (cpu, memory, pids, blkio, ...).
func (h *CgroupHandle) Stat() (*stats.Metrics, error) {
	m, err := h.cg.Stat(cgroups.IgnoreNotExist)
	if err != nil {
		return nil, wrap("cgroup.stat", err, h.path)
	}
	return m, nil
}

// Freeze suspends every task in the hierarchy via the freezer controller,
// backing the container's pause() operation.
func (h *CgroupHandle) Freeze() error {
	if err := h.cg.Freeze(); err != nil {
		return wrap("cgroup.freeze", err, h.path)
	}
	return nil
}

// Thaw resumes a previously frozen hierarchy, backing resume().
func (h *CgroupHandle) Thaw() error {
	if err := h.cg.Thaw(); err != nil {
		return wrap("cgroup.thaw", err, h.path)
	}
	return nil
}

// Delete removes the cgroup hierarchy. It is idempotent: deleting an
// already-gone hierarchy is not an error, matching the "destroy always
// unwinds in reverse" invariant -- a failed partial create should not leave
// delete stuck on a half-existing path.
func (h *CgroupHandle) Delete() error {
	if err := h.cg.Delete(); err != nil && err != cgroups.ErrCgroupDeleted {
		return wrap("cgroup.delete", err, h.path)
	}
	return nil
}

// OOMEventFD returns an eventfd that becomes readable each time the
// hierarchy's memory controller kills a task for exceeding its limit,
// backing the guest's OOM notification surface.
func (h *CgroupHandle) OOMEventFD() (uintptr, error) {
	fd, err := h.cg.OOMEventFD()
	if err != nil {
		return 0, wrap("cgroup.oom_eventfd", err, h.path)
	}
	return fd, nil
}

// Processes lists the pids currently placed in the hierarchy, used by
// ListProcesses.
func (h *CgroupHandle) Processes() ([]int, error) {
	procs, err := h.cg.Processes(cgroups.Devices, false)
	if err != nil {
		return nil, wrap("cgroup.processes", err, h.path)
	}
	pids := make([]int, 0, len(procs))
	for _, p := range procs {
		pids = append(pids, p.Pid)
	}
	return pids, nil
}
