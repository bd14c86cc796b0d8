package sandbox

import (
	"testing"

	stats "github.com/containerd/cgroups/stats/v1"
	"github.com/stretchr/testify/assert"
)

func TestStatsFromCgroupNilSectionsStayZeroed(t *testing.T) {
	out := statsFromCgroup(&stats.Metrics{})
	assert.Equal(t, &ContainerStats{}, out)
}

func TestStatsFromCgroupFlattensPopulatedSections(t *testing.T) {
	assert := assert.New(t)

	m := &stats.Metrics{
		CPU: &stats.CPUStat{
			Usage:      &stats.CPUUsage{Total: 100, Kernel: 40, User: 60},
			Throttling: &stats.Throttle{ThrottledPeriods: 2, ThrottledTime: 500},
		},
		Memory: &stats.MemoryStat{
			Usage: &stats.MemoryEntry{Usage: 1024, Limit: 2048},
			Swap:  &stats.MemoryEntry{Usage: 256},
		},
		Pids: &stats.PidsStat{Current: 3, Limit: 10},
	}

	out := statsFromCgroup(m)
	assert.EqualValues(100, out.CPUUsageTotalNanos)
	assert.EqualValues(40, out.CPUUsageKernelNanos)
	assert.EqualValues(60, out.CPUUsageUserNanos)
	assert.EqualValues(2, out.CPUThrottledPeriods)
	assert.EqualValues(500, out.CPUThrottledNanos)
	assert.EqualValues(1024, out.MemoryUsageBytes)
	assert.EqualValues(2048, out.MemoryLimitBytes)
	assert.EqualValues(256, out.MemorySwapBytes)
	assert.EqualValues(3, out.PidsCurrent)
	assert.EqualValues(10, out.PidsLimit)
}
