package presence

import (
	"context"
	"sort"
	"sync"
)

// Directory tracks which identities have at least one live connection.
// Connect and Disconnect report the offline/online edges so callers can
// broadcast each edge exactly once.
type Directory interface {
	Connect(ctx context.Context, userID int64, handle string) (bool, error)
	Disconnect(ctx context.Context, userID int64, handle string) (bool, error)
	IsOnline(ctx context.Context, userID int64) (bool, error)
	Online(ctx context.Context) ([]int64, error)
}

type MemoryDirectory struct {
	mu      sync.Mutex
	handles map[int64]map[string]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{handles: make(map[int64]map[string]struct{})}
}

func (d *MemoryDirectory) Connect(_ context.Context, userID int64, handle string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.handles[userID]
	if !ok {
		set = make(map[string]struct{})
		d.handles[userID] = set
	}
	if _, exists := set[handle]; exists {
		return false, nil
	}
	set[handle] = struct{}{}
	return len(set) == 1, nil
}

func (d *MemoryDirectory) Disconnect(_ context.Context, userID int64, handle string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.handles[userID]
	if !ok {
		return false, nil
	}
	if _, exists := set[handle]; !exists {
		return false, nil
	}
	delete(set, handle)
	if len(set) == 0 {
		delete(d.handles, userID)
		return true, nil
	}
	return false, nil
}

func (d *MemoryDirectory) IsOnline(_ context.Context, userID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles[userID]) > 0, nil
}

func (d *MemoryDirectory) Online(_ context.Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]int64, 0, len(d.handles))
	for id := range d.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
