package sandbox

import (
	"sync"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
)

// Storage is a guest storage binding: a block device, 9p/virtio-fs tag, or
// overlay source mounted at Target, shared by however many containers
// reference it (spec.md §3).
type Storage struct {
	ID      string
	Source  string
	Target  string
	FSType  string
	Options string
	refs    int
}

// StorageTable owns the sandbox-wide storage-ID -> Storage map, guarded by
// its own lock per spec.md §5 so concurrent AddStorage/RemoveStorage RPCs
// never race the map or the refcount.
type StorageTable struct {
	mu       sync.Mutex
	storages map[string]*Storage
}

func newStorageTable() *StorageTable {
	return &StorageTable{storages: make(map[string]*Storage)}
}

// Add mounts the storage if this is its first reference, otherwise just
// bumps the refcount -- storage is mounted at most once (spec.md §3).
func (t *StorageTable) Add(s *Storage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.storages[s.ID]; ok {
		existing.refs++
		return nil
	}

	if err := kernelapi.EnsureDir(s.Target, 0o755); err != nil {
		return err
	}
	if err := kernelapi.Mount(kernelapi.MountSpec{
		Source:  s.Source,
		Target:  s.Target,
		FSType:  s.FSType,
		Options: s.Options,
	}); err != nil {
		return err
	}

	s.refs = 1
	t.storages[s.ID] = s
	return nil
}

// Remove decrements the refcount and unmounts once it reaches zero.
// Removing an unknown ID is NotFound, making repeated removal after the
// binding is gone correctly idempotent-but-erroring per spec.md §8.
func (t *StorageTable) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.storages[id]
	if !ok {
		return &kataerr.NotFound{Kind: "storage", ID: id}
	}

	s.refs--
	if s.refs > 0 {
		return nil
	}

	delete(t.storages, id)
	return kernelapi.Unmount(s.Target, true)
}

// Get looks up a storage binding by ID.
func (t *StorageTable) Get(id string) (*Storage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.storages[id]
	if !ok {
		return nil, &kataerr.NotFound{Kind: "storage", ID: id}
	}
	return s, nil
}
