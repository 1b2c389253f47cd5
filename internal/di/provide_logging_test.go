package di

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTeeLogger(t *testing.T) {
	var console, file bytes.Buffer
	logger := newTeeLogger(&console, &file)

	logger.Debug().Msg("command output")
	logger.Info().Msg("stage started")

	assert.NotContains(t, console.String(), "command output")
	assert.Contains(t, console.String(), "stage started")
	assert.Contains(t, file.String(), "command output")
	assert.Contains(t, file.String(), "stage started")
}

func TestNewFileLogger_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.log")
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0644))

	logger, closer, err := NewFileLogger(path)
	require.NoError(t, err)
	logger.Debug().Msg("next run")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "previous run")
	assert.Contains(t, string(data), "next run")
}

func TestNewFileLogger_BadPath(t *testing.T) {
	_, _, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "bootstrap.log"))
	assert.Error(t, err)
}
