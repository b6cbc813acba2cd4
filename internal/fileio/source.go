// Package fileio adapts local disk files to the transfer protocol: windowed
// reads on the sending side and a scoped, crash-safe output stream on the
// receiving side.
package fileio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileInfo describes the file offered for transfer.
type FileInfo struct {
	Name string
	Size uint64
}

// Stat returns the transfer-relevant information for a file on disk.
func Stat(path string) (FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s is a directory", path)
	}
	return FileInfo{
		Name: filepath.Base(path),
		Size: uint64(stat.Size()),
	}, nil
}

// Source reads a file in fixed-size windows on demand. One Source is opened
// per send and holds its own file handle for the transfer's lifetime.
type Source struct {
	file *os.File
	info FileInfo
}

// OpenSource opens the file at path for windowed reading.
func OpenSource(path string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if stat.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &Source{
		file: file,
		info: FileInfo{Name: filepath.Base(path), Size: uint64(stat.Size())},
	}, nil
}

// Info returns the name and size of the opened file.
func (s *Source) Info() FileInfo {
	return s.info
}

// ReadChunk reads up to n bytes starting at offset. The returned slice is
// shorter than n only for the window covering the end of the file.
func (s *Source) ReadChunk(offset uint64, n int) ([]byte, error) {
	if offset >= s.info.Size {
		return nil, io.EOF
	}

	remaining := s.info.Size - offset
	if uint64(n) > remaining {
		n = int(remaining)
	}

	buf := make([]byte, n)
	if _, err := s.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("failed to read file at offset %d: %w", offset, err)
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (s *Source) Close() error {
	return s.file.Close()
}
