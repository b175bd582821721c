package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_WritesJSONWithServiceField(t *testing.T) {
	out := filepath.Join(t.TempDir(), "vnml.log")
	log, err := New(Config{Level: "debug", Encoding: "json", OutputPath: out, Service: "vnml-server", Env: "test"})
	require.NoError(t, err)

	log.Info("hello")
	_ = log.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"INFO"`)
	assert.Contains(t, string(data), `"service":"vnml-server"`)
	assert.Contains(t, string(data), `"timestamp"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "loud", OutputPath: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
