package logger

import (
	"binance-trade-bot-go/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tradebot.log")
	log := New(models.LogConfig{Level: "warn", Output: "file", File: path, MaxSize: 1})

	log.Info("hidden")
	log.Warn("order timed out", zap.String("symbol", "ETHUSDT"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "order timed out")
	assert.Contains(t, out, `"symbol": "ETHUSDT"`)
}

func TestNew_InvalidLevelDefaultsToInfo(t *testing.T) {
	log := New(models.LogConfig{Level: "loud", Output: "console"})
	assert.True(t, log.Core().Enabled(zap.InfoLevel))
	assert.False(t, log.Core().Enabled(zap.DebugLevel))
}

func TestInitLogger_SetsGlobal(t *testing.T) {
	log := InitLogger(models.LogConfig{Level: "debug", Output: "console"})
	t.Cleanup(func() { baseLogger = nil })

	assert.Same(t, log, L())
	assert.NotNil(t, S())
}
