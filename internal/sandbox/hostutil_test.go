package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileWritesRegularFileAtOffset(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	sb := NewSandbox("sb-1")

	dst := filepath.Join(t.TempDir(), "nested", "file.txt")
	require.NoError(sb.CopyFile(CopyFileChunk{
		Path: dst, DirMode: 0o755, FileMode: 0o644,
		Data: []byte("hello"), Uid: os.Getuid(), Gid: os.Getgid(),
	}))

	data, err := os.ReadFile(dst)
	require.NoError(err)
	assert.Equal("hello", string(data))

	require.NoError(sb.CopyFile(CopyFileChunk{
		Path: dst, DirMode: 0o755, FileMode: 0o644,
		Data: []byte("X"), Offset: 5, Uid: os.Getuid(), Gid: os.Getgid(),
	}))
	data, err = os.ReadFile(dst)
	require.NoError(err)
	assert.Equal("helloX", string(data))
}

func TestCopyFileTruncatesToFileSize(t *testing.T) {
	require := require.New(t)
	sb := NewSandbox("sb-1")
	dst := filepath.Join(t.TempDir(), "file.txt")

	require.NoError(sb.CopyFile(CopyFileChunk{
		Path: dst, DirMode: 0o755, FileMode: 0o644,
		Data: []byte("hello world"), FileSize: 5,
		Uid: os.Getuid(), Gid: os.Getgid(),
	}))

	data, err := os.ReadFile(dst)
	require.NoError(err)
	assert.Equal(t, "hello", string(data))
}

func TestCopyFileCreatesDirectory(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	sb := NewSandbox("sb-1")

	dst := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(sb.CopyFile(CopyFileChunk{
		Path: dst, DirMode: 0o755, FileMode: os.ModeDir | 0o755,
		Uid: os.Getuid(), Gid: os.Getgid(),
	}))

	info, err := os.Stat(dst)
	require.NoError(err)
	assert.True(info.IsDir())
}

func TestCopyFileCreatesSymlink(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	sb := NewSandbox("sb-1")

	dst := filepath.Join(t.TempDir(), "link")
	require.NoError(sb.CopyFile(CopyFileChunk{
		Path: dst, DirMode: 0o755, FileMode: os.ModeSymlink | 0o777,
		Data: []byte("/etc/target"),
		Uid:  os.Getuid(), Gid: os.Getgid(),
	}))

	target, err := os.Readlink(dst)
	require.NoError(err)
	assert.Equal("/etc/target", target)
}

func TestOnlineSysfsEntriesSkipsAlreadyOnline(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	dir := t.TempDir()
	offline := filepath.Join(dir, "cpu1", "online")
	online := filepath.Join(dir, "cpu2", "online")
	require.NoError(os.MkdirAll(filepath.Dir(offline), 0o755))
	require.NoError(os.MkdirAll(filepath.Dir(online), 0o755))
	require.NoError(os.WriteFile(offline, []byte("0"), 0o644))
	require.NoError(os.WriteFile(online, []byte("1"), 0o644))

	require.NoError(onlineSysfsEntries(filepath.Join(dir, "cpu*/online"), 0))

	data, err := os.ReadFile(offline)
	require.NoError(err)
	assert.Equal("1", string(data))
}

func TestOnlineSysfsEntriesRespectsLimit(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, "cpu"+string(rune('0'+i)), "online")
		require.NoError(os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(os.WriteFile(p, []byte("0"), 0o644))
		paths = append(paths, p)
	}

	require.NoError(onlineSysfsEntries(filepath.Join(dir, "cpu*/online"), 1))

	var onlineCount int
	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(err)
		if string(data) == "1" {
			onlineCount++
		}
	}
	assert.Equal(1, onlineCount)
}

func TestReseedRandomWritesToUrandom(t *testing.T) {
	sb := NewSandbox("sb-1")
	assert.NoError(t, sb.ReseedRandom([]byte("some entropy")))
}

func TestGetGuestDetailsReportsAgentVersion(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	sb := NewSandbox("sb-1")

	details, err := sb.GetGuestDetails()
	require.NoError(err)
	assert.Equal("0.1.0", details.AgentVersion)
	assert.True(details.SupportsSeccomp)
	assert.NotZero(details.TotalMemoryBytes)
}
