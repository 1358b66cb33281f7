package connection

import (
	"context"
	"sync"
)

type storeWrite struct {
	name string
	run  func(ctx context.Context) error
}

// writeQueue keeps each tenant's store writes in the order the state machine
// produced them. Writes of different tenants never wait on each other.
type writeQueue struct {
	mu      sync.Mutex
	pending map[string][]storeWrite
	busy    map[string]bool
}

func newWriteQueue() *writeQueue {
	return &writeQueue{
		pending: make(map[string][]storeWrite),
		busy:    make(map[string]bool),
	}
}

func (q *writeQueue) push(tenantID string, w storeWrite) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[tenantID] = append(q.pending[tenantID], w)
}

// drain runs the tenant's queued writes until none are left. When another
// goroutine is already draining the tenant it returns at once; that
// goroutine picks up the new writes.
func (q *writeQueue) drain(tenantID string, run func(storeWrite)) {
	q.mu.Lock()
	if q.busy[tenantID] {
		q.mu.Unlock()
		return
	}
	q.busy[tenantID] = true
	for len(q.pending[tenantID]) > 0 {
		batch := q.pending[tenantID]
		delete(q.pending, tenantID)
		q.mu.Unlock()
		for _, w := range batch {
			run(w)
		}
		q.mu.Lock()
	}
	delete(q.busy, tenantID)
	q.mu.Unlock()
}
