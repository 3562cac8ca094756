package history

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo keeps restart history in process memory. Checks may run
// concurrently, so the map is guarded.
type MemoryRepo struct {
	mu    sync.Mutex
	times map[string]time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		times: make(map[string]time.Time),
	}
}

func (r *MemoryRepo) LastRestart(_ context.Context, vmName string) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, present := r.times[vmName]

	return at, present, nil
}

func (r *MemoryRepo) MarkRestarted(_ context.Context, vmName string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.times[vmName] = at

	return nil
}
