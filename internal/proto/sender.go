package proto

import (
	"context"
	"fmt"
	"time"

	"peerdrop/internal/fileio"

	"github.com/sirupsen/logrus"
)

// Conn is the slice of the transport channel the sender drives.
type Conn interface {
	Send(data []byte, binary bool) error
	BufferedAmount() uint64
}

// SenderConfig carries the tunables of the sending loop.
type SenderConfig struct {
	// ChunkSize is the read window and maximum binary frame size.
	ChunkSize int
	// HighWaterMark suspends sending while the transport's buffered amount
	// exceeds it.
	HighWaterMark uint64
	// DrainPollInterval is how often the suspended sender re-checks the
	// buffered amount.
	DrainPollInterval time.Duration
}

// Sender streams one file over the transport channel: a single metadata
// frame, the chunk sequence, then a completion frame. It never materializes
// the whole file in memory.
type Sender struct {
	conn       Conn
	src        *fileio.Source
	cfg        SenderConfig
	onProgress func(bytesSent uint64)
}

// NewSender creates a sender for one file transfer. onProgress, if non-nil,
// is invoked after every chunk with the cumulative byte count.
func NewSender(conn Conn, src *fileio.Source, cfg SenderConfig, onProgress func(uint64)) *Sender {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = ChunkSize
	}
	if cfg.HighWaterMark == 0 {
		cfg.HighWaterMark = 4 * uint64(cfg.ChunkSize)
	}
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = 20 * time.Millisecond
	}
	return &Sender{
		conn:       conn,
		src:        src,
		cfg:        cfg,
		onProgress: onProgress,
	}
}

// Run performs the transfer. Cancellation via ctx is checked at each chunk
// boundary; a cancel frame is sent to the peer and ErrCancelled returned.
func (s *Sender) Run(ctx context.Context) error {
	info := s.src.Info()

	if err := s.sendControl(ControlFrame{
		Type:     ControlMetadata,
		FileName: info.Name,
		FileSize: info.Size,
	}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"file": info.Name,
		"size": info.Size,
	}).Info("transfer started")

	var bytesSent uint64
	for offset := uint64(0); offset < info.Size; offset += uint64(s.cfg.ChunkSize) {
		if ctx.Err() != nil {
			return s.cancel()
		}

		if err := s.waitForDrain(ctx); err != nil {
			return err
		}

		chunk, err := s.src.ReadChunk(offset, s.cfg.ChunkSize)
		if err != nil {
			return fmt.Errorf("failed to read chunk at offset %d: %w", offset, err)
		}

		if err := s.conn.Send(chunk, true); err != nil {
			return fmt.Errorf("failed to send chunk: %w", err)
		}

		bytesSent += uint64(len(chunk))
		if s.onProgress != nil {
			s.onProgress(bytesSent)
		}
	}

	if err := s.sendControl(ControlFrame{Type: ControlComplete}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"file":  info.Name,
		"bytes": bytesSent,
	}).Info("transfer complete")
	return nil
}

// waitForDrain suspends the sender while the transport's outbound queue sits
// above the high-water mark. Violating this bound risks unbounded growth of
// the transport's internal send queue.
func (s *Sender) waitForDrain(ctx context.Context) error {
	for s.conn.BufferedAmount() > s.cfg.HighWaterMark {
		select {
		case <-ctx.Done():
			return s.cancel()
		case <-time.After(s.cfg.DrainPollInterval):
		}
	}
	return nil
}

// cancel notifies the peer and fails the transfer.
func (s *Sender) cancel() error {
	if err := s.sendControl(ControlFrame{Type: ControlCancel}); err != nil {
		logrus.WithError(err).Warn("failed to send cancel frame")
	}
	return ErrCancelled
}

func (s *Sender) sendControl(frame ControlFrame) error {
	data, err := EncodeControl(frame)
	if err != nil {
		return err
	}
	if err := s.conn.Send(data, false); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", frame.Type, err)
	}
	return nil
}
