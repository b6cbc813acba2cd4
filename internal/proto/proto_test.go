package proto

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"peerdrop/internal/fileio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentFrame struct {
	data   []byte
	binary bool
}

// fakeConn records sent frames and exposes a controllable buffered amount.
type fakeConn struct {
	mu       sync.Mutex
	frames   []sentFrame
	buffered atomic.Uint64
}

func (c *fakeConn) Send(data []byte, binary bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames = append(c.frames, sentFrame{data: cp, binary: binary})
	return nil
}

func (c *fakeConn) BufferedAmount() uint64 {
	return c.buffered.Load()
}

func (c *fakeConn) sent() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func writeSourceFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func openerInto(t *testing.T, dir string) StreamOpener {
	t.Helper()
	return func(name string) (*fileio.WriteStream, error) {
		return fileio.NewWriteStream(dir, name)
	}
}

func testSenderConfig() SenderConfig {
	return SenderConfig{
		ChunkSize:         ChunkSize,
		HighWaterMark:     4 * ChunkSize,
		DrainPollInterval: time.Millisecond,
	}
}

func runTransfer(t *testing.T, size int) (conn *fakeConn, data []byte, updates []Update) {
	t.Helper()

	path, data := writeSourceFile(t, size)
	src, err := fileio.OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	conn = &fakeConn{}
	sender := NewSender(conn, src, testSenderConfig(), nil)
	require.NoError(t, sender.Run(context.Background()))

	recvDir := t.TempDir()
	recv := NewReceiver(openerInto(t, recvDir))
	for _, frame := range conn.sent() {
		update, err := recv.Handle(frame.data, frame.binary)
		require.NoError(t, err)
		updates = append(updates, update)
	}
	return conn, data, updates
}

func TestRoundTripReproducesBytes(t *testing.T) {
	for _, size := range []int{1, 100, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3 * ChunkSize} {
		conn, data, updates := runTransfer(t, size)
		_ = conn

		final := updates[len(updates)-1]
		require.Equal(t, UpdateCompleted, final.Kind)
		assert.Equal(t, uint64(size), final.Bytes)

		got, err := os.ReadFile(final.SavedPath)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "size %d", size)
	}
}

func TestEmptyFileTransfer(t *testing.T) {
	conn, _, updates := runTransfer(t, 0)

	// A single metadata frame and an immediate completion, zero chunk frames.
	frames := conn.sent()
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.False(t, f.binary)
	}

	final := updates[len(updates)-1]
	require.Equal(t, UpdateCompleted, final.Kind)
	assert.Equal(t, uint64(0), final.Bytes)

	got, err := os.ReadFile(final.SavedPath)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScenario200000Bytes(t *testing.T) {
	conn, _, updates := runTransfer(t, 200000)

	frames := conn.sent()
	// 1 metadata + 4 chunks + 1 complete.
	require.Len(t, frames, 6)

	meta, ok := DecodeControl(frames[0].data)
	require.True(t, ok)
	assert.Equal(t, ControlMetadata, meta.Type)
	assert.Equal(t, uint64(200000), meta.FileSize)

	chunkSizes := []int{65536, 65536, 65536, 3392}
	for i, want := range chunkSizes {
		assert.True(t, frames[i+1].binary)
		assert.Len(t, frames[i+1].data, want)
	}

	fin, ok := DecodeControl(frames[5].data)
	require.True(t, ok)
	assert.Equal(t, ControlComplete, fin.Type)

	// Percentage is monotone and ends at exactly 100.0.
	var lastBytes uint64
	var lastPct float64
	for _, u := range updates {
		require.GreaterOrEqual(t, u.Bytes, lastBytes)
		lastBytes = u.Bytes
		if u.FileSize > 0 {
			lastPct = float64(u.Bytes) / float64(u.FileSize) * 100
		}
	}
	assert.Equal(t, 100.0, lastPct)
	assert.Equal(t, uint64(200000), lastBytes)
}

func TestBackpressureSuspendsSender(t *testing.T) {
	path, _ := writeSourceFile(t, 2*ChunkSize)
	src, err := fileio.OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	conn := &fakeConn{}
	conn.buffered.Store(5 * ChunkSize) // above the high-water mark

	sender := NewSender(conn, src, testSenderConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- sender.Run(context.Background()) }()

	// The sender emits metadata, then must park before the first chunk.
	require.Eventually(t, func() bool { return len(conn.sent()) == 1 }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn.sent(), 1, "sender must not send chunks above the high-water mark")

	// Draining below the mark resumes sending automatically.
	conn.buffered.Store(0)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sender did not resume after drain")
	}
	assert.Len(t, conn.sent(), 4) // metadata + 2 chunks + complete
}

func TestCancelMidTransfer(t *testing.T) {
	path, _ := writeSourceFile(t, 2*ChunkSize)
	src, err := fileio.OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	conn := &fakeConn{}
	conn.buffered.Store(5 * ChunkSize) // park the sender in the drain wait

	ctx, cancel := context.WithCancel(context.Background())
	sender := NewSender(conn, src, testSenderConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- sender.Run(ctx) }()

	require.Eventually(t, func() bool { return len(conn.sent()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("sender did not observe cancellation")
	}

	frames := conn.sent()
	last, ok := DecodeControl(frames[len(frames)-1].data)
	require.True(t, ok)
	assert.Equal(t, ControlCancel, last.Type)
}

func TestReceiverCancelDiscardsPartial(t *testing.T) {
	dir := t.TempDir()
	recv := NewReceiver(openerInto(t, dir))

	meta, err := EncodeControl(ControlFrame{Type: ControlMetadata, FileName: "doc.pdf", FileSize: 200000})
	require.NoError(t, err)
	update, err := recv.Handle(meta, false)
	require.NoError(t, err)
	savedPath := filepath.Join(dir, "doc.pdf")
	_ = update

	_, err = recv.Handle(make([]byte, ChunkSize), true)
	require.NoError(t, err)
	assert.Equal(t, uint64(ChunkSize), recv.Bytes())

	cancelFrame, err := EncodeControl(ControlFrame{Type: ControlCancel})
	require.NoError(t, err)
	update, err = recv.Handle(cancelFrame, false)
	require.NoError(t, err)
	assert.Equal(t, UpdateCancelled, update.Kind)

	// No partial file retained, byte count reset to empty.
	_, err = os.Stat(savedPath)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, uint64(0), recv.Bytes())
	assert.False(t, recv.Active())
}

func TestAbandonIgnoresInFlightFrames(t *testing.T) {
	dir := t.TempDir()
	recv := NewReceiver(openerInto(t, dir))

	meta, err := EncodeControl(ControlFrame{Type: ControlMetadata, FileName: "e.bin", FileSize: 2 * ChunkSize})
	require.NoError(t, err)
	_, err = recv.Handle(meta, false)
	require.NoError(t, err)
	_, err = recv.Handle(make([]byte, ChunkSize), true)
	require.NoError(t, err)

	recv.Abandon()
	assert.False(t, recv.Active())

	// Frames from the abandoned transfer still in flight on the ordered
	// channel are discarded, not treated as protocol violations.
	update, err := recv.Handle(make([]byte, ChunkSize), true)
	require.NoError(t, err)
	assert.Equal(t, UpdateIgnored, update.Kind)

	complete, err := EncodeControl(ControlFrame{Type: ControlComplete})
	require.NoError(t, err)
	update, err = recv.Handle(complete, false)
	require.NoError(t, err)
	assert.Equal(t, UpdateIgnored, update.Kind)

	// The next announced transfer is handled normally.
	meta2, err := EncodeControl(ControlFrame{Type: ControlMetadata, FileName: "f.bin", FileSize: 1})
	require.NoError(t, err)
	update, err = recv.Handle(meta2, false)
	require.NoError(t, err)
	assert.Equal(t, UpdateMetadata, update.Kind)
	assert.True(t, recv.Active())
	recv.Reset()

	// No partial output retained from either transfer.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChunkWithoutMetadata(t *testing.T) {
	recv := NewReceiver(openerInto(t, t.TempDir()))

	_, err := recv.Handle(make([]byte, 100), true)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	// The receiver survives and accepts a following transfer.
	meta, err := EncodeControl(ControlFrame{Type: ControlMetadata, FileName: "a.txt", FileSize: 1})
	require.NoError(t, err)
	_, err = recv.Handle(meta, false)
	require.NoError(t, err)
	assert.True(t, recv.Active())
	recv.Reset()
}

func TestMetadataTwiceIsViolation(t *testing.T) {
	dir := t.TempDir()
	recv := NewReceiver(openerInto(t, dir))

	meta, err := EncodeControl(ControlFrame{Type: ControlMetadata, FileName: "b.bin", FileSize: 10})
	require.NoError(t, err)
	_, err = recv.Handle(meta, false)
	require.NoError(t, err)

	_, err = recv.Handle(meta, false)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.False(t, recv.Active())

	// Partial output from the aborted transfer is gone.
	_, err = os.Stat(filepath.Join(dir, "b.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestChunkOverrunIsViolation(t *testing.T) {
	recv := NewReceiver(openerInto(t, t.TempDir()))

	meta, err := EncodeControl(ControlFrame{Type: ControlMetadata, FileName: "c.bin", FileSize: 10})
	require.NoError(t, err)
	_, err = recv.Handle(meta, false)
	require.NoError(t, err)

	_, err = recv.Handle(make([]byte, 11), true)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCompleteBeforeAllBytesIsViolation(t *testing.T) {
	recv := NewReceiver(openerInto(t, t.TempDir()))

	meta, err := EncodeControl(ControlFrame{Type: ControlMetadata, FileName: "d.bin", FileSize: 10})
	require.NoError(t, err)
	_, err = recv.Handle(meta, false)
	require.NoError(t, err)

	complete, err := EncodeControl(ControlFrame{Type: ControlComplete})
	require.NoError(t, err)
	_, err = recv.Handle(complete, false)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCompleteWithoutMetadata(t *testing.T) {
	recv := NewReceiver(openerInto(t, t.TempDir()))

	complete, err := EncodeControl(ControlFrame{Type: ControlComplete})
	require.NoError(t, err)
	_, err = recv.Handle(complete, false)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCancelWithNoActiveTransfer(t *testing.T) {
	recv := NewReceiver(openerInto(t, t.TempDir()))

	cancelFrame, err := EncodeControl(ControlFrame{Type: ControlCancel})
	require.NoError(t, err)
	update, err := recv.Handle(cancelFrame, false)
	require.NoError(t, err)
	assert.Equal(t, UpdateCancelled, update.Kind)
}

func TestUnrecognizedTextFrame(t *testing.T) {
	recv := NewReceiver(openerInto(t, t.TempDir()))

	_, err := recv.Handle([]byte(`{"type":"bogus"}`), false)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDecodeControlRejectsChunkBytes(t *testing.T) {
	_, ok := DecodeControl([]byte{0x00, 0x01, 0xff, 0xfe})
	assert.False(t, ok)

	// JSON without a known type is chunk data, not control.
	_, ok = DecodeControl([]byte(`{"foo":"bar"}`))
	assert.False(t, ok)
}
