package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestRotatingWriter_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "engram.log")

	w, err := NewRotatingWriter(path, 10, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	_, err = w.Write([]byte("first line\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first line\n", string(data))
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.log")

	// 1 MB limit; each write is ~512 KB so the third write must rotate.
	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	chunk := []byte(strings.Repeat("x", 512*1024))
	for i := 0; i < 3; i++ {
		_, err = w.Write(chunk)
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file exists")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024*1024))
}

func TestSetup_WritesStructuredLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.log")

	cleanup, err := Setup(Config{Level: "debug", FilePath: path})
	require.NoError(t, err)

	slog.Info("setup test entry", slog.String("key", "value"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"setup test entry"`)
	assert.Contains(t, string(data), `"key":"value"`)
}
