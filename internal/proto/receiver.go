package proto

import (
	"fmt"

	"peerdrop/internal/fileio"

	"github.com/sirupsen/logrus"
)

// UpdateKind classifies what a handled frame did to the receiving transfer.
type UpdateKind int

const (
	// UpdateMetadata: a new transfer was announced and the output stream
	// opened.
	UpdateMetadata UpdateKind = iota
	// UpdateChunk: chunk bytes were appended to the output stream.
	UpdateChunk
	// UpdateCompleted: the output stream was finalized.
	UpdateCompleted
	// UpdateCancelled: the sender cancelled; partial output was discarded.
	UpdateCancelled
	// UpdateIgnored: the frame belonged to a locally abandoned transfer and
	// was discarded.
	UpdateIgnored
)

// Update describes the effect of one handled frame.
type Update struct {
	Kind      UpdateKind
	FileName  string
	FileSize  uint64
	Bytes     uint64
	SavedPath string
}

// StreamOpener creates the scoped output stream for an announced file.
type StreamOpener func(fileName string) (*fileio.WriteStream, error)

// Receiver reconstructs one file at a time from incoming frames. All
// accumulation state (metadata, output stream, byte count) is owned here and
// dies with the transfer; nothing survives a Reset.
type Receiver struct {
	openStream StreamOpener
	fileName   string
	fileSize   uint64
	stream     *fileio.WriteStream
	bytes      uint64
	draining   bool
}

// NewReceiver creates a receiver that opens output streams via openStream.
func NewReceiver(openStream StreamOpener) *Receiver {
	return &Receiver{openStream: openStream}
}

// Active reports whether a transfer is in progress (metadata received, not
// yet completed or cancelled).
func (r *Receiver) Active() bool {
	return r.stream != nil
}

// Bytes returns the byte count of the in-progress transfer.
func (r *Receiver) Bytes() uint64 {
	return r.bytes
}

// FileName returns the name announced for the in-progress transfer.
func (r *Receiver) FileName() string {
	return r.fileName
}

// Handle processes one incoming frame. A protocol violation or I/O failure
// discards any partial output and resets the receiver before returning the
// error; the receiver itself stays usable for a subsequent transfer.
func (r *Receiver) Handle(data []byte, binary bool) (Update, error) {
	// Control frames travel as text, but every frame is speculatively
	// decoded so a control message is never mistaken for chunk bytes.
	if frame, ok := DecodeControl(data); ok {
		if r.draining && frame.Type != ControlMetadata {
			return Update{Kind: UpdateIgnored}, nil
		}
		return r.handleControl(frame)
	}
	if r.draining {
		return Update{Kind: UpdateIgnored}, nil
	}
	if !binary {
		r.Reset()
		return Update{}, fmt.Errorf("%w: unrecognized text frame", ErrProtocolViolation)
	}
	return r.handleChunk(data)
}

func (r *Receiver) handleControl(frame ControlFrame) (Update, error) {
	switch frame.Type {
	case ControlMetadata:
		return r.handleMetadata(frame)
	case ControlComplete:
		return r.handleComplete()
	case ControlCancel:
		return r.handleCancel()
	default:
		r.Reset()
		return Update{}, fmt.Errorf("%w: unknown control frame %q", ErrProtocolViolation, frame.Type)
	}
}

func (r *Receiver) handleMetadata(frame ControlFrame) (Update, error) {
	r.draining = false
	if r.stream != nil {
		r.Reset()
		return Update{}, fmt.Errorf("%w: metadata received twice without complete or cancel", ErrProtocolViolation)
	}

	stream, err := r.openStream(frame.FileName)
	if err != nil {
		return Update{}, fmt.Errorf("failed to open output stream: %w", err)
	}

	r.fileName = frame.FileName
	r.fileSize = frame.FileSize
	r.stream = stream
	r.bytes = 0

	logrus.WithFields(logrus.Fields{
		"file": frame.FileName,
		"size": frame.FileSize,
		"path": stream.Path(),
	}).Info("incoming transfer")

	return Update{
		Kind:     UpdateMetadata,
		FileName: r.fileName,
		FileSize: r.fileSize,
	}, nil
}

func (r *Receiver) handleChunk(data []byte) (Update, error) {
	if r.stream == nil {
		return Update{}, fmt.Errorf("%w: chunk without metadata", ErrProtocolViolation)
	}

	if r.bytes+uint64(len(data)) > r.fileSize {
		r.Reset()
		return Update{}, fmt.Errorf("%w: received more bytes than announced size %d", ErrProtocolViolation, r.fileSize)
	}

	if err := r.stream.Write(data); err != nil {
		r.Reset()
		return Update{}, fmt.Errorf("failed to write chunk: %w", err)
	}
	r.bytes += uint64(len(data))

	return Update{
		Kind:     UpdateChunk,
		FileName: r.fileName,
		FileSize: r.fileSize,
		Bytes:    r.bytes,
	}, nil
}

func (r *Receiver) handleComplete() (Update, error) {
	if r.stream == nil {
		return Update{}, fmt.Errorf("%w: complete without metadata", ErrProtocolViolation)
	}
	if r.bytes != r.fileSize {
		r.Reset()
		return Update{}, fmt.Errorf("%w: complete after %d of %d bytes", ErrProtocolViolation, r.bytes, r.fileSize)
	}

	savedPath := r.stream.Path()
	if err := r.stream.Finalize(); err != nil {
		r.Reset()
		return Update{}, fmt.Errorf("failed to finalize output: %w", err)
	}

	update := Update{
		Kind:      UpdateCompleted,
		FileName:  r.fileName,
		FileSize:  r.fileSize,
		Bytes:     r.bytes,
		SavedPath: savedPath,
	}

	logrus.WithFields(logrus.Fields{
		"file":  r.fileName,
		"bytes": r.bytes,
		"path":  savedPath,
	}).Info("transfer received")

	r.clear()
	return update, nil
}

func (r *Receiver) handleCancel() (Update, error) {
	// Cancel may arrive at any point, including with no transfer active.
	fileName := r.fileName
	r.Reset()

	logrus.WithField("file", fileName).Info("transfer cancelled by peer")
	return Update{Kind: UpdateCancelled, FileName: fileName}, nil
}

// Abandon cancels the in-progress transfer locally: partial output is
// discarded, and frames from it still in flight on the ordered channel are
// ignored until the next metadata frame announces a fresh transfer.
func (r *Receiver) Abandon() {
	r.Reset()
	r.draining = true
}

// Reset discards any partial output and returns the receiver to its empty
// state. Safe to call at any time, including with no transfer active.
func (r *Receiver) Reset() {
	if r.stream != nil {
		if err := r.stream.Discard(); err != nil {
			logrus.WithError(err).Warn("failed to discard partial output")
		}
	}
	r.clear()
}

func (r *Receiver) clear() {
	r.fileName = ""
	r.fileSize = 0
	r.stream = nil
	r.bytes = 0
}
