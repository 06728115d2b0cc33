package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"eino_flow/src/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(model.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestInitLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.log")
	require.NoError(t, InitLogger(model.LogConfig{
		Level:    "debug",
		Format:   "json",
		Output:   "file",
		FilePath: path,
	}))

	l := ForExecution("exec-1", "wf-1", "evt-1")
	l.Info().Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"execution_id":"exec-1"`)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestWithContext(t *testing.T) {
	require.NoError(t, InitLogger(model.LogConfig{Level: "info", Format: "json", Output: "stderr"}))

	l := ForExecution("exec-2", "wf", "")
	ctx := WithContext(context.Background(), l)
	assert.Same(t, zerolog.Ctx(ctx), zerolog.Ctx(ctx))
	assert.NotEqual(t, zerolog.Disabled, zerolog.Ctx(ctx).GetLevel())
}
