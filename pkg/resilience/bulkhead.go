package resilience

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/NikhilSetiya/servermon/pkg/errors"
)

// BulkheadConfig bounds concurrent use of a dependency
type BulkheadConfig struct {
	Name string
	// MaxConcurrent is the number of calls allowed in flight
	MaxConcurrent int
	// MaxQueued is the number of calls allowed to wait for a slot
	MaxQueued int
	// OnReject is called for every rejected call
	OnReject func(name string)
}

// Bulkhead admits at most MaxConcurrent+MaxQueued callers. Callers past
// that bound are rejected immediately without queueing.
type Bulkhead struct {
	name     string
	capacity int64
	sem      *semaphore.Weighted
	admitted atomic.Int64
	running  atomic.Int64
	onReject func(name string)
}

// NewBulkhead creates a bulkhead. MaxConcurrent defaults to 1.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.MaxQueued < 0 {
		config.MaxQueued = 0
	}
	return &Bulkhead{
		name:     config.Name,
		capacity: int64(config.MaxConcurrent + config.MaxQueued),
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrent)),
		onReject: config.OnReject,
	}
}

// Execute runs op once a slot is free, or rejects it when the bulkhead is full.
func (b *Bulkhead) Execute(ctx context.Context, op Operation) error {
	if b.admitted.Add(1) > b.capacity {
		b.admitted.Add(-1)
		if b.onReject != nil {
			b.onReject(b.name)
		}
		return errors.NewBulkheadRejectedError(b.name)
	}
	defer b.admitted.Add(-1)

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return errors.NewCanceledError(b.name).WithCause(err)
	}
	defer b.sem.Release(1)

	b.running.Add(1)
	defer b.running.Add(-1)
	return op(ctx)
}

// InFlight returns the number of calls currently executing.
func (b *Bulkhead) InFlight() int {
	return int(b.running.Load())
}

// Queued returns the number of calls waiting for a slot.
func (b *Bulkhead) Queued() int {
	q := b.admitted.Load() - b.running.Load()
	if q < 0 {
		return 0
	}
	return int(q)
}

// IsBulkheadRejected checks if an error is a bulkhead rejection
func IsBulkheadRejected(err error) bool {
	return errors.IsType(err, errors.ErrorTypeBulkheadRejected)
}
