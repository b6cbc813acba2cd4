// Package proto implements the wire-level chunked transfer protocol: one
// metadata control frame, a sequence of raw binary chunk frames, and a
// completion or cancel control frame, all carried over an ordered transport
// channel.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ChunkSize is the fixed size of one binary chunk frame. The final chunk of
// a file is the remainder, never padded.
const ChunkSize = 64 * 1024

var (
	// ErrProtocolViolation reports a frame that breaks the transfer protocol,
	// such as a chunk with no preceding metadata. It is fatal to the current
	// transfer and resets receiver-side accumulation.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrCancelled reports a cooperative, user-initiated cancellation.
	ErrCancelled = errors.New("transfer cancelled")
)

// ControlType discriminates the text control frames.
type ControlType string

const (
	ControlMetadata ControlType = "metadata"
	ControlComplete ControlType = "complete"
	ControlCancel   ControlType = "cancel"
)

// ControlFrame is a UTF-8 JSON text message carrying protocol metadata, as
// opposed to raw file bytes.
type ControlFrame struct {
	Type     ControlType `json:"type"`
	FileName string      `json:"fileName,omitempty"`
	FileSize uint64      `json:"fileSize,omitempty"`
}

// EncodeControl serializes a control frame for transmission as text.
func EncodeControl(frame ControlFrame) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode control frame: %w", err)
	}
	return data, nil
}

// DecodeControl speculatively decodes a frame as a UTF-8 JSON control
// message. It reports false when the bytes are not a recognized control
// frame, in which case the frame is raw chunk data.
func DecodeControl(data []byte) (ControlFrame, bool) {
	var frame ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ControlFrame{}, false
	}

	switch frame.Type {
	case ControlMetadata, ControlComplete, ControlCancel:
		return frame, true
	default:
		return ControlFrame{}, false
	}
}
