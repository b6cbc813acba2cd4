package transport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// DataChannel adapts a pion data channel to the Channel interface,
// translating its event callbacks into the channel-based contract.
type DataChannel struct {
	mu      sync.Mutex
	dc      *webrtc.DataChannel
	readyCh chan struct{}
	doneCh  chan struct{}
	msgCh   chan Message
	open    bool
	closed  bool
	err     error
}

// Label used for the single file-transfer data channel.
const channelLabel = "fileTransfer"

// NewDataChannel creates the ordered data channel on pc. The initiator calls
// this before producing its offer.
func NewDataChannel(pc *webrtc.PeerConnection) (*DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	c := newDataChannel()
	c.attach(dc)
	return c, nil
}

// AcceptDataChannel waits for the initiator's data channel to be announced on
// pc. The responder calls this before producing its answer.
func AcceptDataChannel(pc *webrtc.PeerConnection) *DataChannel {
	c := newDataChannel()
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		logrus.WithFields(logrus.Fields{
			"label": dc.Label(),
			"id":    dc.ID(),
		}).Debug("incoming data channel")
		c.attach(dc)
	})
	return c
}

func newDataChannel() *DataChannel {
	return &DataChannel{
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		msgCh:   make(chan Message, 128),
	}
}

func (c *DataChannel) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.mu.Lock()
		if !c.open && !c.closed {
			c.open = true
			close(c.readyCh)
		}
		c.mu.Unlock()
		logrus.WithField("label", dc.Label()).Debug("data channel open")
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		select {
		case c.msgCh <- Message{Data: msg.Data, Binary: !msg.IsString}:
		case <-c.doneCh:
		}
	})

	dc.OnClose(func() {
		c.teardown(nil)
	})

	dc.OnError(func(err error) {
		c.teardown(err)
	})
}

// Send implements Channel.
func (c *DataChannel) Send(data []byte, binary bool) error {
	c.mu.Lock()
	dc, open, closed := c.dc, c.open, c.closed
	c.mu.Unlock()

	if !open || closed || dc == nil {
		return ErrChannelNotOpen
	}

	var err error
	if binary {
		err = dc.Send(data)
	} else {
		err = dc.SendText(string(data))
	}
	if err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// BufferedAmount implements Channel.
func (c *DataChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return 0
	}
	return dc.BufferedAmount()
}

// Messages implements Channel.
func (c *DataChannel) Messages() <-chan Message {
	return c.msgCh
}

// Ready implements Channel.
func (c *DataChannel) Ready() <-chan struct{} {
	return c.readyCh
}

// Done implements Channel.
func (c *DataChannel) Done() <-chan struct{} {
	return c.doneCh
}

// Err implements Channel.
func (c *DataChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements Channel.
func (c *DataChannel) Close() error {
	c.mu.Lock()
	dc := c.dc
	alreadyClosed := c.closed
	c.mu.Unlock()

	if !alreadyClosed && dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen {
		if err := dc.GracefulClose(); err != nil {
			logrus.WithError(err).Debug("graceful close failed")
		}
	}

	c.teardown(nil)
	return nil
}

// teardown finishes the channel exactly once, recording err as the cause.
func (c *DataChannel) teardown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	close(c.doneCh)
	c.mu.Unlock()

	if err != nil {
		logrus.WithError(err).Debug("data channel failed")
	} else {
		logrus.Debug("data channel closed")
	}
}
