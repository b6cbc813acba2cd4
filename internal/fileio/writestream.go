package fileio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrStreamClosed is returned by Write and Finalize after the stream has
	// already been closed, guarding against write-after-close and
	// double-close.
	ErrStreamClosed = errors.New("write stream already closed")
)

// WriteStream writes received bytes to disk incrementally. Exactly one
// WriteStream is active per receiving transfer; it is closed exactly once,
// by either Finalize or Discard.
type WriteStream struct {
	mu     sync.Mutex
	id     string
	file   *os.File
	path   string
	closed bool
}

// NewWriteStream creates the destination file for an incoming transfer under
// dir. If name already exists there, a numeric " (n)" suffix is inserted
// before the extension until a free name is found.
func NewWriteStream(dir, name string) (*WriteStream, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	path, file, err := createAvailable(dir, sanitizeName(name))
	if err != nil {
		return nil, err
	}

	ws := &WriteStream{
		id:   uuid.NewString(),
		file: file,
		path: path,
	}

	logrus.WithFields(logrus.Fields{
		"stream": ws.id,
		"path":   path,
	}).Debug("write stream opened")

	return ws, nil
}

// ID returns the stream's identifier.
func (w *WriteStream) ID() string {
	return w.id
}

// Path returns the final destination path chosen for this stream.
func (w *WriteStream) Path() string {
	return w.path
}

// Write appends p to the destination file.
func (w *WriteStream) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrStreamClosed
	}
	if _, err := w.file.Write(p); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	return nil
}

// Finalize flushes and closes the destination file, keeping it on disk.
func (w *WriteStream) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrStreamClosed
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"stream": w.id,
		"path":   w.path,
	}).Debug("write stream finalized")

	return nil
}

// Discard closes the stream and removes the partial file. Calling Discard on
// an already-closed stream is a no-op so teardown paths can call it
// unconditionally.
func (w *WriteStream) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.file.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial file: %w", err)
	}

	logrus.WithField("stream", w.id).Debug("write stream discarded")
	return nil
}

// createAvailable opens the first non-colliding destination path, using
// O_EXCL so two streams cannot claim the same name.
func createAvailable(dir, name string) (string, *os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 0; ; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		path := filepath.Join(dir, candidate)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, file, nil
		}
		if !os.IsExist(err) {
			return "", nil, fmt.Errorf("failed to create destination file: %w", err)
		}
	}
}

// sanitizeName strips any path components a peer may have smuggled into the
// advertised file name.
func sanitizeName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == string(filepath.Separator) || name == "" {
		return "received.bin"
	}
	return name
}
