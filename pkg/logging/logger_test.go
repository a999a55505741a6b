package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
		},
		{
			name:    "invalid log level",
			config:  &Config{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  &Config{Level: "info", Format: "invalid", Output: "stdout"},
			wantErr: true,
		},
		{
			name:   "file output rotates",
			config: &Config{Level: "debug", Format: "text", Output: filepath.Join(t.TempDir(), "servermon.log")},
		},
		{
			name:   "nil config uses defaults",
			config: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func newBufferedLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	logger, err := NewLogger(&Config{
		Level:       "debug",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithTargetID(ctx, 42)
	logger.WithContext(ctx).Info("collected")

	entry := decodeLine(t, buf)
	assert.Equal(t, "collected", entry["message"])
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, float64(42), entry["target_id"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Contains(t, entry, "timestamp")
}

func TestLogger_KeyValues(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.Warn("breaker opened", "name", "cpu", "failures", 5, "dangling")

	entry := decodeLine(t, buf)
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "cpu", entry["name"])
	assert.Equal(t, float64(5), entry["failures"])
	assert.NotContains(t, entry, "dangling")
}

func TestLogger_WithError(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.WithError(errors.New("boom")).Error("failed")

	entry := decodeLine(t, buf)
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "*errors.errorString", entry["error_type"])
}

func TestLogger_LogCycleEvent(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.LogCycleEvent(context.Background(), "collection", 1500*time.Millisecond, logrus.Fields{"targets": 3})

	entry := decodeLine(t, buf)
	assert.Equal(t, "collection", entry["job"])
	assert.Equal(t, float64(1500), entry["duration_ms"])
	assert.Equal(t, float64(3), entry["targets"])
}

func TestCorrelationID(t *testing.T) {
	id := NewCorrelationID()
	assert.Len(t, id, 36)

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
}
