package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLoggerConfig(t *testing.T) {
	cfg := LoggerConfig(false, "bot.log")
	assert.Equal(t, []string{"stdout", "bot.log"}, cfg.OutputPaths)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level.Level())
	assert.NotNil(t, cfg.Sampling)
	assert.Equal(t, ServiceName, cfg.InitialFields["service"])

	debugCfg := LoggerConfig(true)
	assert.Equal(t, []string{"stdout"}, debugCfg.OutputPaths)
	assert.Equal(t, zapcore.DebugLevel, debugCfg.Level.Level())
	assert.Nil(t, debugCfg.Sampling)
}

func TestLoggerConfigWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	cfg := LoggerConfig(false, path)
	cfg.OutputPaths = []string{path}

	logger, err := cfg.Build()
	require.NoError(t, err)
	logger.Info("bundle submitted", zap.Uint64("block", 101))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"bundle submitted"`)
	assert.Contains(t, string(data), `"service":"sandwichbot"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestGetLoggerInitializes(t *testing.T) {
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Same(t, logger, InitLogger(true))
	CleanupLogger()
}
