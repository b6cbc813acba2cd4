// Package transport wraps the negotiated WebRTC peer connection behind a
// single bidirectional ordered message channel abstraction.
package transport

import "errors"

// ErrChannelNotOpen is returned by Send before the channel's open event has
// fired or after it has been torn down.
var ErrChannelNotOpen = errors.New("data channel is not open")

// Message is one frame received from the peer. Binary frames carry raw chunk
// bytes; text frames carry UTF-8 control messages.
type Message struct {
	Data   []byte
	Binary bool
}

// Channel is a bidirectional ordered message channel between two peers.
// Ordering of Messages matches send order; that is a transport guarantee and
// is not reimplemented above this interface.
type Channel interface {
	// Send transmits one frame. It fails with ErrChannelNotOpen before the
	// open event.
	Send(data []byte, binary bool) error

	// BufferedAmount reports the transport's outbound queue depth. It is
	// consulted only for the sender's backpressure decision.
	BufferedAmount() uint64

	// Messages delivers incoming frames in send order. No frames are
	// delivered after Done is closed; consumers select on both.
	Messages() <-chan Message

	// Ready is closed once the channel's open event fires.
	Ready() <-chan struct{}

	// Done is closed when the channel closes or fails. Err reports the
	// failure cause afterwards, nil for a clean close.
	Done() <-chan struct{}
	Err() error

	// Close tears the channel down. It is idempotent and safe from any state.
	Close() error
}
