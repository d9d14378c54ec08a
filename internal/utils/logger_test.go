// internal/utils/logger_test.go
package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFieldsReachZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := &Logger{zap: zap.New(core)}

	logger.Info("generation finished", map[string]interface{}{
		"state": "COMPLETED",
		"err":   errors.New("none"),
	})
	logger.With(map[string]interface{}{"request_id": "r-1"}).Warnf("chunk %d dropped", 3)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "generation finished", entries[0].Message)
	assert.Equal(t, "COMPLETED", entries[0].ContextMap()["state"])
	assert.Equal(t, "none", entries[0].ContextMap()["err"])
	assert.Equal(t, "chunk 3 dropped", entries[1].Message)
	assert.Equal(t, "r-1", entries[1].ContextMap()["request_id"])
}

func TestNewZapLoggerFallsBackOnBadLevel(t *testing.T) {
	zl, err := NewZapLogger(LoggerConfig{Level: "loud", Encoding: "xml"})
	require.NoError(t, err)
	assert.True(t, zl.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, zl.Core().Enabled(zapcore.DebugLevel))
}

func TestGetLoggerDefaultsToNop(t *testing.T) {
	assert.NotPanics(t, func() {
		GetLogger().Debug("quiet", nil)
	})
	GetLogger().SetZap(nil)
	assert.NotNil(t, GetLogger().Zap())
}
