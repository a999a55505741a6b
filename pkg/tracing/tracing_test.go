package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracingService_Disabled(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := ts.StartCycleSpan(context.Background(), "collection", "corr-1")
	defer span.End()

	assert.Empty(t, GetTraceID(ctx))
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestTraced_PropagatesError(t *testing.T) {
	ts := Noop()
	boom := errors.New("boom")

	err := ts.Traced(context.Background(), "op", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, ts.Traced(context.Background(), "op", func(ctx context.Context) error { return nil }))
}
