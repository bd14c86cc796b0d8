package sandbox

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/intel-go/cpuid"
	"github.com/moby/sys/userns"
	"github.com/pbnjay/memory"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

// AgentVersion is the engine's own semver, reported to GetGuestDetails the
// same way the host-side runtime expects so it can gate agent features
// (e.g. seccomp support) without a handshake round trip.
var AgentVersion = semver.MustParse("0.1.0")

const memoryBlockSysfs = "/sys/devices/system/memory"

// memoryBlockSizeBytes reads the sysfs value every memory block (hotplug
// unit) is sized to -- the same figure the hypervisor uses to compute
// hotplug addresses, so host and guest agree on what one "section" means.
func memoryBlockSizeBytes() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(memoryBlockSysfs, "block_size_bytes"))
	if err != nil {
		return 0, &kataerr.KernelError{Syscall: "read", Errno: err, Context: "memory block_size_bytes"}
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 16, 64)
}

// MemHotplugProbe notifies the guest kernel of newly hypervisor-attached
// memory by writing each section's physical address to the probe
// interface, then onlining the memory block that address falls in
// (spec.md §4.4 mem_hotplug_probe).
func (sb *Sandbox) MemHotplugProbe(addrs []uint64) error {
	blockSize, err := memoryBlockSizeBytes()
	if err != nil {
		return err
	}

	probePath := filepath.Join(memoryBlockSysfs, "probe")
	for _, addr := range addrs {
		if err := os.WriteFile(probePath, []byte("0x"+strconv.FormatUint(addr, 16)), 0); err != nil {
			return &kataerr.KernelError{Syscall: "write", Errno: err, Context: probePath}
		}

		block := addr / blockSize
		statePath := filepath.Join(memoryBlockSysfs, "memory"+strconv.FormatUint(block, 10), "state")
		if err := os.WriteFile(statePath, []byte("online"), 0); err != nil {
			return &kataerr.KernelError{Syscall: "write", Errno: err, Context: statePath}
		}
	}
	return nil
}

// OnlineCPUMem brings newly hotplugged CPUs and memory blocks online by
// writing 1 to offline CPUs' online files, up to nbCPUs of them (0 means
// "all currently offline"), and "online" to every offline memory block's
// state file. When cpuOnly is set, memory blocks are
// left alone -- the hypervisor hotplugs CPU and memory independently and
// the caller may only be reacting to one of the two (spec.md §4.4
// online_cpu_memory).
func (sb *Sandbox) OnlineCPUMem(nbCPUs uint32, cpuOnly bool) error {
	if err := onlineSysfsEntries("/sys/devices/system/cpu/cpu*/online", nbCPUs); err != nil {
		return err
	}
	if cpuOnly {
		return nil
	}
	return onlineSysfsEntries(filepath.Join(memoryBlockSysfs, "memory*/state"), 0)
}

// onlineSysfsEntries globs pattern (each match a sysfs "online" or "state"
// file) and writes the online value to every entry currently offline, up
// to limit matches (0 means unbounded).
func onlineSysfsEntries(pattern string, limit uint32) error {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return &kataerr.InvalidSpec{Field: "sysfs pattern", Reason: err.Error()}
	}

	var onlined uint32
	for _, path := range matches {
		if limit > 0 && onlined >= limit {
			break
		}

		cur, err := os.ReadFile(path)
		if err != nil {
			continue // entry disappeared (offlined/removed) between glob and read
		}

		value := strings.TrimSpace(string(cur))
		if value == "1" || value == "online" {
			continue
		}

		want := "1"
		if strings.HasSuffix(path, "/state") {
			want = "online"
		}
		if err := os.WriteFile(path, []byte(want), 0); err != nil {
			return &kataerr.KernelError{Syscall: "write", Errno: err, Context: path}
		}
		onlined++
	}
	return nil
}

// SetGuestDateTime sets the guest's system clock (spec.md §4.4
// set_guest_datetime), used after resume-from-pause or on cold boot when
// the VM's RTC may not reflect the host's.
func (sb *Sandbox) SetGuestDateTime(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	if err := unix.Settimeofday(&tv); err != nil {
		return &kataerr.KernelError{Syscall: "settimeofday", Errno: err}
	}
	return nil
}

// ReseedRandom feeds host-supplied entropy into the guest's random pool
// (spec.md §4.4 reseed_random) -- the guest's own /dev/random otherwise
// starts under-seeded since it never sees the host's hardware RNG.
func (sb *Sandbox) ReseedRandom(data []byte) error {
	f, err := os.OpenFile("/dev/urandom", os.O_WRONLY, 0)
	if err != nil {
		return &kataerr.KernelError{Syscall: "open", Errno: err, Context: "/dev/urandom"}
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return &kataerr.KernelError{Syscall: "write", Errno: err, Context: "/dev/urandom"}
	}
	return nil
}

// CopyFileChunk is one fragment of a copy_file request: the host may split
// a large file across several calls (spec.md §4.4 copy_file), each naming
// the same destination path and an offset into it.
type CopyFileChunk struct {
	Path     string
	DirMode  os.FileMode
	FileMode os.FileMode
	Uid      int
	Gid      int
	Offset   int64
	Data     []byte
	FileSize int64
}

// CopyFile writes, appends to, or creates dst according to chunk's file
// type (encoded in FileMode's type bits, mirroring what the host read via
// lstat): directories are created outright, symlinks are created from the
// target stashed in Data, and regular files are written at Offset so a
// multi-chunk transfer lands each piece in place regardless of arrival
// order.
func (sb *Sandbox) CopyFile(chunk CopyFileChunk) error {
	if err := os.MkdirAll(filepath.Dir(chunk.Path), chunk.DirMode); err != nil {
		return &kataerr.KernelError{Syscall: "mkdir", Errno: err, Context: chunk.Path}
	}

	switch chunk.FileMode & os.ModeType {
	case os.ModeDir:
		if err := os.MkdirAll(chunk.Path, chunk.FileMode.Perm()); err != nil {
			return &kataerr.KernelError{Syscall: "mkdir", Errno: err, Context: chunk.Path}
		}

	case os.ModeSymlink:
		target := string(chunk.Data)
		if err := os.Symlink(target, chunk.Path); err != nil {
			return &kataerr.KernelError{Syscall: "symlink", Errno: err, Context: chunk.Path}
		}
		// Lchown, not Chown: the link target may not exist yet (or ever,
		// for a dangling symlink), and Chown would follow it.
		if err := os.Lchown(chunk.Path, chunk.Uid, chunk.Gid); err != nil {
			return &kataerr.KernelError{Syscall: "lchown", Errno: err, Context: chunk.Path}
		}
		return nil

	default:
		f, err := os.OpenFile(chunk.Path, os.O_WRONLY|os.O_CREATE, chunk.FileMode.Perm())
		if err != nil {
			return &kataerr.KernelError{Syscall: "open", Errno: err, Context: chunk.Path}
		}
		defer f.Close()

		if _, err := f.WriteAt(chunk.Data, chunk.Offset); err != nil {
			return &kataerr.KernelError{Syscall: "pwrite", Errno: err, Context: chunk.Path}
		}
		if chunk.FileSize > 0 {
			if err := f.Truncate(chunk.FileSize); err != nil {
				return &kataerr.KernelError{Syscall: "ftruncate", Errno: err, Context: chunk.Path}
			}
		}
	}

	if err := os.Chown(chunk.Path, chunk.Uid, chunk.Gid); err != nil {
		return &kataerr.KernelError{Syscall: "chown", Errno: err, Context: chunk.Path}
	}
	return nil
}

// GuestDetails is the engine's answer to get_guest_details: agent version
// plus the guest facts the host runtime needs before it can safely drive
// hotplug or pick a seccomp strategy (spec.md §4.4 GetGuestDetails).
type GuestDetails struct {
	AgentVersion           string
	SupportsSeccomp        bool
	MemBlockSizeBytes      uint64
	SupportMemHotplugProbe bool
	TotalMemoryBytes       uint64
	CPUVendor              string
	CPUFeatures            []string
	RunningInUserNS        bool
}

// GetGuestDetails reports the guest's agent version, total memory
// (pbnjay/memory), CPU vendor/feature set (intel-go/cpuid), the memory
// hotplug block size sysfs exposes, and whether the agent itself is
// already confined to a user namespace (moby/sys/userns) -- worth
// surfacing since it bounds whether a bundle requesting its own nested
// user namespace can succeed.
func (sb *Sandbox) GetGuestDetails() (*GuestDetails, error) {
	blockSize, err := memoryBlockSizeBytes()
	hotplugProbe := err == nil
	if err != nil {
		blockSize = 0
	}

	return &GuestDetails{
		AgentVersion:           AgentVersion.String(),
		SupportsSeccomp:        true,
		MemBlockSizeBytes:      blockSize,
		SupportMemHotplugProbe: hotplugProbe,
		TotalMemoryBytes:       memory.TotalMemory(),
		CPUVendor:              cpuid.VendorString,
		CPUFeatures:            cpuFeatureNames(),
		RunningInUserNS:        userns.RunningInUserNS(),
	}, nil
}

func cpuFeatureNames() []string {
	var names []string
	if cpuid.HasFeature(cpuid.SSE4_2) {
		names = append(names, "sse4_2")
	}
	if cpuid.HasFeature(cpuid.AVX) {
		names = append(names, "avx")
	}
	if cpuid.HasExtendedFeature(cpuid.AVX2) {
		names = append(names, "avx2")
	}
	if cpuid.HasFeature(cpuid.HYPERVISOR) {
		names = append(names, "hypervisor")
	}
	return names
}
