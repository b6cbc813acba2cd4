package session

import "errors"

var (
	// ErrInvalidState reports an operation attempted in the wrong phase.
	ErrInvalidState = errors.New("operation not valid in current session state")

	// ErrNotConnected reports a send attempted before the channel is open.
	ErrNotConnected = errors.New("data channel is not connected")

	// ErrTransferInProgress reports a send attempted while another transfer
	// is active.
	ErrTransferInProgress = errors.New("a transfer is already in progress")
)

// Role determines which side of the negotiation this session plays.
type Role int

const (
	// RoleInitiator creates the data channel and produces the offer.
	RoleInitiator Role = iota
	// RoleResponder consumes the offer and produces the answer.
	RoleResponder
)

// String returns the string representation of Role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// Phase is the connection phase of a transfer session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingLocalDescription
	PhaseAwaitingRemoteDescription
	PhaseChannelOpen
	PhaseTransferring
	PhaseCompleted
	PhaseCancelled
	PhaseErrored
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAwaitingLocalDescription:
		return "AwaitingLocalDescription"
	case PhaseAwaitingRemoteDescription:
		return "AwaitingRemoteDescription"
	case PhaseChannelOpen:
		return "ChannelOpen"
	case PhaseTransferring:
		return "Transferring"
	case PhaseCompleted:
		return "Completed"
	case PhaseCancelled:
		return "Cancelled"
	case PhaseErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the phase is a terminal state.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseCancelled, PhaseErrored:
		return true
	default:
		return false
	}
}

// Status is the per-transfer outcome reported through progress events.
type Status int

const (
	StatusActive Status = iota
	StatusCompleted
	StatusCancelled
	StatusErrored
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}
