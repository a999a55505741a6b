package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeout_CompletesInTime(t *testing.T) {
	timeout := NewTimeout("fast", time.Second)

	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestTimeout_Expires(t *testing.T) {
	timeout := NewTimeout("slow", 20*time.Millisecond)

	cancelled := make(chan struct{})
	start := time.Now()
	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		time.Sleep(200 * time.Millisecond)
		return ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeTimeout, ReasonOf(err))
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled")
	}
}

func TestTimeout_PassesThroughErrors(t *testing.T) {
	timeout := NewTimeout("op", time.Second)
	want := errors.New("refused")

	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		return want
	})
	assert.Same(t, want, err)
}

func TestTimeout_ParentCancelled(t *testing.T) {
	timeout := NewTimeout("op", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := timeout.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	assert.Equal(t, appErrors.ErrorTypeCanceled, ReasonOf(err))
}

func TestTimeout_RecoversPanic(t *testing.T) {
	timeout := NewTimeout("op", time.Second)

	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		panic("sensor exploded")
	})

	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeFatal, ReasonOf(err))
	assert.Contains(t, err.Error(), "sensor exploded")
}

func TestTimeout_Disabled(t *testing.T) {
	timeout := NewTimeout("op", 0)
	called := false
	require.NoError(t, timeout.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
