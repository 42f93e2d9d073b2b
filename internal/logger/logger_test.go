package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"dropwin/backend/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("invalid level falls back to info", func(t *testing.T) {
		log, err := NewLogger(config.LogConfig{Level: "loud"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("file output creates the log directory", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "logs", "dropwin.log")

		log, err := NewLogger(config.LogConfig{Level: "debug", File: file, MaxSize: 1})
		require.NoError(t, err)
		log.Info("hello")
		_ = log.Sync()

		_, err = os.Stat(file)
		assert.NoError(t, err)
	})

	t.Run("development logger never nil", func(t *testing.T) {
		assert.NotNil(t, NewDevelopmentLogger())
	})
}
