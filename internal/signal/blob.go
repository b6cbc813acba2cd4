// Package signal produces and consumes the connection-description blobs the
// two peers exchange out-of-band to establish a data channel. A blob is
// base64-wrapped JSON carrying either a session description or a single ICE
// candidate; the user copy-pastes it between the peers, so the package makes
// no assumption about arrival order.
package signal

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ErrParse reports a malformed connection blob. Surfaced to the user as
// "invalid connection data".
var ErrParse = errors.New("invalid connection data")

// Signal is one decoded blob: exactly one of Description or Candidate is set.
type Signal struct {
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

// blobShape is the JSON layer of a connection blob: a session-description
// shape {"type","sdp"} or a candidate shape {"candidate":{...}}.
type blobShape struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Decode parses one pasted blob.
func Decode(blob string) (Signal, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var shape blobShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if shape.Candidate != nil {
		return Signal{Candidate: shape.Candidate}, nil
	}

	switch shape.Type {
	case webrtc.SDPTypeOffer.String(), webrtc.SDPTypeAnswer.String():
	default:
		return Signal{}, fmt.Errorf("%w: unknown signal type %q", ErrParse, shape.Type)
	}
	if shape.SDP == "" {
		return Signal{}, fmt.Errorf("%w: empty sdp", ErrParse)
	}

	desc := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(shape.Type),
		SDP:  shape.SDP,
	}
	return Signal{Description: &desc}, nil
}

// EncodeDescription wraps a session description into a pasteable blob.
func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	return encode(blobShape{Type: desc.Type.String(), SDP: desc.SDP})
}

// EncodeCandidate wraps an ICE candidate into a pasteable blob.
func EncodeCandidate(cand webrtc.ICECandidateInit) (string, error) {
	return encode(blobShape{Candidate: &cand})
}

func encode(shape blobShape) (string, error) {
	raw, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
