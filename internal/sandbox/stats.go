package sandbox

import (
	stats "github.com/containerd/cgroups/stats/v1"
)

// ContainerStats is the engine's normalized view of a container's cgroup
// counters, independent of the stats-reply wire encoding the RPC layer
// chooses (spec.md §4.3 StatsContainer).
type ContainerStats struct {
	CPUUsageTotalNanos  uint64
	CPUUsageKernelNanos uint64
	CPUUsageUserNanos   uint64
	CPUThrottledPeriods uint64
	CPUThrottledNanos   uint64

	MemoryUsageBytes uint64
	MemoryLimitBytes uint64
	MemorySwapBytes  uint64

	PidsCurrent uint64
	PidsLimit   uint64
}

// statsFromCgroup flattens containerd/cgroups' Metrics message into the
// engine's stats shape. Every field access is nil-checked since a cgroup
// subsystem absent from this hierarchy's mount (e.g. no pids controller)
// reports that section as nil rather than zeroed.
func statsFromCgroup(m *stats.Metrics) *ContainerStats {
	out := &ContainerStats{}

	if m.CPU != nil {
		if m.CPU.Usage != nil {
			out.CPUUsageTotalNanos = m.CPU.Usage.Total
			out.CPUUsageKernelNanos = m.CPU.Usage.Kernel
			out.CPUUsageUserNanos = m.CPU.Usage.User
		}
		if m.CPU.Throttling != nil {
			out.CPUThrottledPeriods = m.CPU.Throttling.ThrottledPeriods
			out.CPUThrottledNanos = m.CPU.Throttling.ThrottledTime
		}
	}

	if m.Memory != nil && m.Memory.Usage != nil {
		out.MemoryUsageBytes = m.Memory.Usage.Usage
		out.MemoryLimitBytes = m.Memory.Usage.Limit
	}
	if m.Memory != nil && m.Memory.Swap != nil {
		out.MemorySwapBytes = m.Memory.Swap.Usage
	}

	if m.Pids != nil {
		out.PidsCurrent = m.Pids.Current
		out.PidsLimit = m.Pids.Limit
	}

	return out
}
