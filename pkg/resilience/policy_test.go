package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	appErrors "github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicyConfig(name string) PolicyConfig {
	config := DefaultPolicyConfig(name)
	config.Timeout = 20 * time.Millisecond
	config.Retry = fastRetryConfig(2)
	config.Breaker.FailureThreshold = 2
	config.Breaker.Cooldown = time.Minute
	return config
}

func TestComposite_BreakerCountsExhaustedRetrySequences(t *testing.T) {
	policy := NewComposite(testPolicyConfig("cpu"))

	var calls atomic.Int32
	op := func(ctx context.Context) error {
		calls.Add(1)
		return appErrors.NewTransientError("exporter down")
	}

	require.Error(t, policy.Execute(context.Background(), op))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, StateClosed, policy.Breaker().State())

	require.Error(t, policy.Execute(context.Background(), op))
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, StateOpen, policy.Breaker().State())

	err := policy.Execute(context.Background(), op)
	assert.Equal(t, appErrors.ErrorTypeCircuitOpen, ReasonOf(err))
	assert.Equal(t, int32(6), calls.Load())
}

func TestComposite_TimeoutIsRetried(t *testing.T) {
	policy := NewComposite(testPolicyConfig("probe"))

	var calls atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComposite_FatalStopsImmediately(t *testing.T) {
	policy := NewComposite(testPolicyConfig("disk"))

	var calls atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return appErrors.NewFatalError("mount point missing")
	})

	assert.Equal(t, appErrors.ErrorTypeFatal, ReasonOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestComposite_BulkheadOutermost(t *testing.T) {
	config := testPolicyConfig("collect")
	config.Bulkhead = &BulkheadConfig{MaxConcurrent: 1}
	policy := NewComposite(config)
	require.NotNil(t, policy.Bulkhead())

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = policy.Execute(context.Background(), func(ctx context.Context) error {
			close(running)
			<-release
			return nil
		})
	}()
	<-running

	err := policy.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.Equal(t, appErrors.ErrorTypeBulkheadRejected, ReasonOf(err))
	assert.Equal(t, StateClosed, policy.Breaker().State())
	close(release)
}

func TestDo_ReturnsValue(t *testing.T) {
	policy := NewComposite(testPolicyConfig("memory"))

	v, err := Do(context.Background(), policy, func(ctx context.Context) (float64, error) {
		return 42.5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Policy {
		return PolicyFunc(func(ctx context.Context, op Operation) error {
			order = append(order, name)
			return op(ctx)
		})
	}

	err := Chain(tag("outer"), nil, tag("inner")).Execute(context.Background(), func(ctx context.Context) error {
		order = append(order, "op")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "op"}, order)
}

func TestReasonOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want appErrors.ErrorType
	}{
		{"nil", nil, ""},
		{"plain", errors.New("x"), appErrors.ErrorTypeTransient},
		{"deadline", context.DeadlineExceeded, appErrors.ErrorTypeTimeout},
		{"canceled", context.Canceled, appErrors.ErrorTypeCanceled},
		{"not found", appErrors.NewNotFoundError("target"), appErrors.ErrorTypeFatal},
		{"external", appErrors.NewExternalError("exporter", "502"), appErrors.ErrorTypeTransient},
		{"circuit", appErrors.NewCircuitOpenError("cpu"), appErrors.ErrorTypeCircuitOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonOf(tt.err))
		})
	}
}
