package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// ErrDescriptionApplied is returned when a second session description
// arrives after one has already been applied. A remote description is
// applied at most once per negotiation; only candidates may follow.
var ErrDescriptionApplied = errors.New("remote session description already applied")

// Applier is the subset of the peer connection the exchange drives.
// *webrtc.PeerConnection satisfies it.
type Applier interface {
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
}

// Exchange consumes remote signals for one negotiation round. Candidates and
// the session description travel through the same copy-paste channel and may
// arrive in arbitrary order, so candidates that land first are queued and
// flushed in received order once the description is applied.
type Exchange struct {
	mu      sync.Mutex
	applier Applier
	applied bool
	pending []webrtc.ICECandidateInit
}

// NewExchange creates an exchange driving the given applier.
func NewExchange(applier Applier) *Exchange {
	return &Exchange{applier: applier}
}

// ApplyRemote consumes one decoded signal.
func (e *Exchange) ApplyRemote(sig Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case sig.Description != nil:
		if e.applied {
			return ErrDescriptionApplied
		}
		if err := e.applier.SetRemoteDescription(*sig.Description); err != nil {
			return fmt.Errorf("failed to set remote description: %w", err)
		}
		e.applied = true

		for _, cand := range e.pending {
			if err := e.applier.AddICECandidate(cand); err != nil {
				return fmt.Errorf("failed to add queued candidate: %w", err)
			}
		}
		if n := len(e.pending); n > 0 {
			logrus.WithField("count", n).Debug("flushed queued candidates")
		}
		e.pending = nil
		return nil

	case sig.Candidate != nil:
		if !e.applied {
			e.pending = append(e.pending, *sig.Candidate)
			return nil
		}
		if err := e.applier.AddICECandidate(*sig.Candidate); err != nil {
			return fmt.Errorf("failed to add candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: empty signal", ErrParse)
	}
}

// DescriptionApplied reports whether the remote session description landed.
func (e *Exchange) DescriptionApplied() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied
}

// LocalOfferBlob creates the local offer, waits for ICE candidate gathering
// to finish so the single blob carries the complete description, and returns
// it encoded for the copy-paste exchange.
func LocalOfferBlob(ctx context.Context, pc *webrtc.PeerConnection) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return localDescriptionBlob(ctx, pc, offer)
}

// LocalAnswerBlob creates the local answer after the remote offer has been
// applied, following the same non-trickled gathering as LocalOfferBlob.
func LocalAnswerBlob(ctx context.Context, pc *webrtc.PeerConnection) (string, error) {
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return localDescriptionBlob(ctx, pc, answer)
}

func localDescriptionBlob(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (string, error) {
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-webrtc.GatheringCompletePromise(pc):
	}

	final := pc.LocalDescription()
	if final == nil {
		return "", fmt.Errorf("local description is nil after ICE gathering")
	}
	return EncodeDescription(*final)
}
