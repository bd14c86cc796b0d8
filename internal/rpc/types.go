// Package rpc implements the RPC dispatcher (C6 in the design): a ttrpc
// service surface fronting the sandbox/container engine, one method per
// request kind spec.md §6 enumerates.
package rpc

import (
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kata-containers/kata-agent-go/internal/sandbox"
)

// CreateSandboxRequest is create_sandbox's payload.
type CreateSandboxRequest struct {
	SandboxID           string
	Hostname            string
	AllowedCapabilities []string
	CgroupRoot          string
	KernelModules       []string
	SandboxNetNSPath    string
}

// DestroySandboxRequest is destroy_sandbox's payload.
type DestroySandboxRequest struct {
	Force bool
}

// CreateContainerRequest carries the OCI bundle path plus IO wiring
// choices; the bundle itself is loaded from disk by the handler via
// ocispec.Load, matching how the real transport hands over a path rather
// than an inline bundle.
type CreateContainerRequest struct {
	ContainerID string
	BundlePath  string
	Terminal    bool
	Rows, Cols  uint16
}

// StartContainerRequest names the container to start.
type StartContainerRequest struct {
	ContainerID string
}

// ExecProcessRequest is exec_process's payload.
type ExecProcessRequest struct {
	ContainerID string
	ExecID      string
	Process     *specs.Process
	Terminal    bool
	Rows, Cols  uint16
}

// SignalProcessRequest targets a container's init (ExecID == "") or a
// named exec session.
type SignalProcessRequest struct {
	ContainerID string
	ExecID      string
	Signal      uint32
	All         bool
}

// WaitProcessRequest names the process to wait on.
type WaitProcessRequest struct {
	ContainerID string
	ExecID      string
}

// WaitProcessResponse reports the exit spec.md §5 guarantees is retained
// until observed.
type WaitProcessResponse struct {
	ExitCode int32
	Signaled bool
	Signal   uint32
}

// StatsContainerRequest names the container.
type StatsContainerRequest struct {
	ContainerID string
}

// StatsContainerResponse carries the container's cgroup counters.
type StatsContainerResponse struct {
	Stats *sandbox.ContainerStats
}

// PauseContainerRequest / ResumeContainerRequest / RemoveContainerRequest
// all just name the container.
type PauseContainerRequest struct{ ContainerID string }
type ResumeContainerRequest struct{ ContainerID string }
type RemoveContainerRequest struct{ ContainerID string }

// UpdateContainerRequest carries the new cgroup resource values.
type UpdateContainerRequest struct {
	ContainerID string
	Resources   *specs.LinuxResources
}

// ListProcessesResponse reports every process (init plus execs) of every
// registered container, for diagnostics.
type ListProcessesResponse struct {
	Processes []ProcessInfo
}

// ProcessInfo is one ListProcesses entry.
type ProcessInfo struct {
	ContainerID string
	ExecID      string
	Pid         int
	Exited      bool
}

// WriteStdinRequest / CloseStdinRequest address one process's stdin.
type WriteStdinRequest struct {
	ContainerID string
	ExecID      string
	Data        []byte
}
type CloseStdinRequest struct {
	ContainerID string
	ExecID      string
}

// TtyWinResizeRequest resizes a process's pty.
type TtyWinResizeRequest struct {
	ContainerID string
	ExecID      string
	Rows, Cols  uint16
}

// AddDeviceRequest / RemoveDeviceRequest manage the device table.
type AddDeviceRequest struct {
	Device  sandbox.Device
	Timeout time.Duration
}
type RemoveDeviceRequest struct{ DeviceID string }

// AddStorageRequest / RemoveStorageRequest manage the storage table.
type AddStorageRequest struct{ Storage sandbox.Storage }
type RemoveStorageRequest struct{ StorageID string }

// UpdateInterfacesRequest / UpdateRoutesRequest / AddARPNeighborsRequest
// carry the sandbox network namespace updates.
type UpdateInterfacesRequest struct{ Interfaces []sandbox.InterfaceConfig }
type UpdateRoutesRequest struct{ Routes []sandbox.RouteConfig }
type AddARPNeighborsRequest struct{ Neighbors []sandbox.ARPNeighbor }

type ListInterfacesResponse struct{ Interfaces []sandbox.InterfaceConfig }
type ListRoutesResponse struct{ Routes []sandbox.RouteConfig }

// SetGuestDateTimeRequest carries the wall-clock time to set.
type SetGuestDateTimeRequest struct{ Seconds, Nanoseconds int64 }

// ReseedRandomRequest carries host-supplied entropy.
type ReseedRandomRequest struct{ Data []byte }

// OnlineCPUMemRequest drives online_cpu_memory.
type OnlineCPUMemRequest struct {
	NbCPUs  uint32
	CPUOnly bool
}

// MemHotplugProbeRequest carries the newly hotplugged section addresses.
type MemHotplugProbeRequest struct{ Addresses []uint64 }

// CopyFileRequest is one copy_file chunk.
type CopyFileRequest struct {
	Path     string
	DirMode  uint32
	FileMode uint32
	Uid, Gid int
	Offset   int64
	Data     []byte
	FileSize int64
}

// CheckResponse answers the health RPC.
type CheckResponse struct {
	Healthy bool
}

// GetMetricsResponse carries the Prometheus exposition-format text.
type GetMetricsResponse struct {
	Metrics string
}

// GetOOMEventsResponse reports containers the cgroup OOM killer has hit
// since the last call.
type GetOOMEventsResponse struct {
	ContainerIDs []string
}

// GetGuestDetailsResponse answers get_guest_details.
type GetGuestDetailsResponse struct {
	Details *sandbox.GuestDetails
}

// Empty is every void request/response: ttrpc still needs a concrete type
// to marshal even when a call carries no data both ways.
type Empty struct{}
