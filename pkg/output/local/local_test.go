package local

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, path string) []byte {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := pgzip.NewReader(f)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestCreateWriteClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_1GB_20240101T000000"+Extension)
	payload := bytes.Repeat([]byte("raspberry"), 300000)

	w, err := Create(path, Options{Level: pgzip.BestSpeed, Blocks: 2})
	require.NoError(t, err)
	assert.Equal(t, path, w.Path())

	_, err = w.Write(payload[:1000])
	require.NoError(t, err)
	_, err = w.Write(payload[1000:])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, payload, readArchive(t, path))
}

func TestCreateRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exists.gz")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))

	_, err := Create(path, Options{})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), data)
}

func TestCreateMissingDirectory(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "gone", "image.gz"), Options{})
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.gz")
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	require.NoError(t, Remove(path))
	assert.NoFileExists(t, path)

	// already gone
	assert.NoError(t, Remove(path))
}

func TestRemoveLogsOnlyDeletedFiles(t *testing.T) {
	var buf bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	defer func() { log.Logger = saved }()

	path := filepath.Join(t.TempDir(), "partial.gz")
	require.NoError(t, Remove(path))
	assert.Empty(t, buf.String())

	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))
	require.NoError(t, Remove(path))
	assert.Contains(t, buf.String(), "partial archive removed")
}
