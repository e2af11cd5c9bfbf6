package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWithCoreRecordsLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewWithCore(core)

	log.Debug("geocode skipped", "reason", "network")
	log.With("session_id", "abc").Warn("stale handle")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "network", entries[0].ContextMap()["reason"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "abc", entries[1].ContextMap()["session_id"])
}

func TestNewLoggerFallsBackOnUnknownLevel(t *testing.T) {
	log := NewLogger("development", "not-a-level")
	require.NotNil(t, log)
	log.Info("still works")
}

func TestNopDropsEverything(t *testing.T) {
	log := NewNop()
	log.Error("ignored", "k", "v")
}
