package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkhead_RejectsBeyondCapacity(t *testing.T) {
	rejected := 0
	bh := NewBulkhead(BulkheadConfig{
		Name:          "api",
		MaxConcurrent: 2,
		MaxQueued:     1,
		OnReject:      func(string) { rejected++ },
	})

	release := make(chan struct{})
	started := make(chan struct{}, 3)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bh.Execute(context.Background(), func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	<-started
	<-started
	require.Eventually(t, func() bool { return bh.Queued() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, bh.InFlight())

	invoked := false
	err := bh.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsBulkheadRejected(err))
	assert.False(t, invoked)
	assert.Equal(t, 1, rejected)

	close(release)
	wg.Wait()

	assert.Equal(t, 0, bh.InFlight())
	assert.Equal(t, 0, bh.Queued())
}

func TestBulkhead_QueuedCallerHonoursContext(t *testing.T) {
	bh := NewBulkhead(BulkheadConfig{Name: "api", MaxConcurrent: 1, MaxQueued: 1})

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = bh.Execute(context.Background(), func(ctx context.Context) error {
			close(running)
			<-release
			return nil
		})
	}()
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := bh.Execute(ctx, func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.False(t, IsBulkheadRejected(err))
	close(release)
}
