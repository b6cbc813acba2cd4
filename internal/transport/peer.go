package transport

import (
	"fmt"

	"peerdrop/internal/config"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// ConnectionFailure reports a peer connection that left the connected path.
type ConnectionFailure struct {
	State webrtc.PeerConnectionState
}

func (e *ConnectionFailure) Error() string {
	return fmt.Sprintf("peer connection %s", e.State.String())
}

// Peer manages the WebRTC peer connection lifecycle.
type Peer struct {
	config      *config.Config
	failureChan chan *ConnectionFailure
}

// NewPeer creates a new peer service with the given configuration.
func NewPeer(cfg *config.Config) *Peer {
	return &Peer{
		config:      cfg,
		failureChan: make(chan *ConnectionFailure, 1),
	}
}

// Connect creates a peer connection using the configured ICE servers and
// installs connection-state monitoring.
func (p *Peer) Connect() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.config.WebRTC.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logrus.WithField("state", state.String()).Debug("peer connection state changed")

		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			select {
			case p.failureChan <- &ConnectionFailure{State: state}:
			default:
			}
		}
	})

	return pc, nil
}

// Failures returns a channel that receives connection failures and closures.
func (p *Peer) Failures() <-chan *ConnectionFailure {
	return p.failureChan
}

// Close gracefully closes the peer connection.
func (p *Peer) Close(pc *webrtc.PeerConnection) error {
	if pc == nil {
		return nil
	}
	return pc.Close()
}
