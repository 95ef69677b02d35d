// Package executor provides the shared, bounded worker pool used for
// fanning out collaborator calls.
package executor

import (
	"go.cloudsolutions.dev/jitaccess/internal/apierror"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently running collaborator calls.
// Acquiring a slot never blocks: when the pool is oversubscribed the
// operation fails with a retriable ResourceExhausted error instead of
// queueing behind other requests.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with the given number of workers.
func NewPool(workers int64) *Pool {
	return &Pool{sem: semaphore.NewWeighted(workers)}
}

// Acquire claims a worker slot. Callers must Release the slot when the
// call completes.
func (p *Pool) Acquire() error {
	if !p.sem.TryAcquire(1) {
		return apierror.ResourceExhausted("all workers are busy, retry later").Err()
	}
	return nil
}

// Release returns a worker slot to the pool.
func (p *Pool) Release() {
	p.sem.Release(1)
}
