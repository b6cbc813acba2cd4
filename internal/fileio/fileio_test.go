package fileio

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestStat(t *testing.T) {
	path := writeTempFile(t, "example.dat", []byte("hello"))

	info, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, "example.dat", info.Name)
	assert.Equal(t, uint64(5), info.Size)

	_, err = Stat(filepath.Dir(path))
	assert.Error(t, err)

	_, err = Stat(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSourceReadChunkWindows(t *testing.T) {
	data := make([]byte, 200000)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := writeTempFile(t, "big.bin", data)

	src, err := OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	const chunkSize = 65536
	var got []byte
	for offset := uint64(0); offset < src.Info().Size; offset += chunkSize {
		chunk, err := src.ReadChunk(offset, chunkSize)
		require.NoError(t, err)
		got = append(got, chunk...)
	}

	assert.True(t, bytes.Equal(data, got))

	// Final window is the remainder, not a full chunk.
	tail, err := src.ReadChunk(3*chunkSize, chunkSize)
	require.NoError(t, err)
	assert.Len(t, tail, 200000-3*chunkSize)

	_, err = src.ReadChunk(src.Info().Size, chunkSize)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceEmptyFile(t *testing.T) {
	path := writeTempFile(t, "empty", nil)

	src, err := OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, uint64(0), src.Info().Size)
	_, err = src.ReadChunk(0, 65536)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteStreamRoundTrip(t *testing.T) {
	dir := t.TempDir()

	ws, err := NewWriteStream(dir, "out.bin")
	require.NoError(t, err)
	assert.NotEmpty(t, ws.ID())

	require.NoError(t, ws.Write([]byte("hello ")))
	require.NoError(t, ws.Write([]byte("world")))
	require.NoError(t, ws.Finalize())

	data, err := os.ReadFile(ws.Path())
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestWriteStreamCollisionSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo (1).png"), []byte("x"), 0o644))

	ws, err := NewWriteStream(dir, "photo.png")
	require.NoError(t, err)
	defer ws.Discard()

	assert.Equal(t, filepath.Join(dir, "photo (2).png"), ws.Path())
}

func TestWriteStreamDiscardRemovesPartial(t *testing.T) {
	dir := t.TempDir()

	ws, err := NewWriteStream(dir, "partial.bin")
	require.NoError(t, err)
	require.NoError(t, ws.Write([]byte("partial data")))
	require.NoError(t, ws.Discard())

	_, err = os.Stat(ws.Path())
	assert.True(t, os.IsNotExist(err))

	// Discard is safe to call again.
	assert.NoError(t, ws.Discard())
}

func TestWriteStreamClosedGuards(t *testing.T) {
	dir := t.TempDir()

	ws, err := NewWriteStream(dir, "guarded.bin")
	require.NoError(t, err)
	require.NoError(t, ws.Finalize())

	assert.ErrorIs(t, ws.Write([]byte("late")), ErrStreamClosed)
	assert.ErrorIs(t, ws.Finalize(), ErrStreamClosed)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "evil.txt", sanitizeName("../../evil.txt"))
	assert.Equal(t, "file.txt", sanitizeName("file.txt"))
	assert.Equal(t, "received.bin", sanitizeName(""))
	assert.Equal(t, "received.bin", sanitizeName(".."))
}

func TestResolveDestDir(t *testing.T) {
	dir := t.TempDir()

	resolved, err := ResolveDestDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, resolved)

	created := filepath.Join(dir, "incoming")
	resolved, err = ResolveDestDir(created)
	require.NoError(t, err)
	assert.Equal(t, created, resolved)
	assert.DirExists(t, created)

	_, err = ResolveDestDir(filepath.Join(dir, "no", "such", "parent"))
	assert.Error(t, err)

	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = ResolveDestDir(file)
	assert.Error(t, err)

	_, err = ResolveDestDir("")
	assert.Error(t, err)
}
