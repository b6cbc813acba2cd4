// Package session owns the transfer state machine for one peer pairing: it
// tracks the connection phase, enforces valid transitions, drives signaling
// and the chunked transfer protocol, and publishes progress to an observer
// stream. All transfer state lives on the Session value; nothing survives
// its teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peerdrop/internal/config"
	"peerdrop/internal/fileio"
	"peerdrop/internal/proto"
	"peerdrop/internal/signal"
	"peerdrop/internal/transport"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Session is one logical transfer session between two peers. It supports one
// file in flight at a time; sequential sends over the same open channel are
// allowed. Create with New, establish with Start, destroy with Close.
type Session struct {
	cfg     *config.Config
	destDir string

	mu           sync.Mutex
	role         Role
	phase        Phase
	started      bool
	closed       bool
	eventsClosed bool

	peer     *transport.Peer
	pc       *webrtc.PeerConnection
	ch       transport.Channel
	exch     *signal.Exchange
	recv     *proto.Receiver
	failures <-chan *transport.ConnectionFailure

	sendCancel context.CancelFunc
	recvStart  time.Time

	events chan Event
}

// New creates an idle session. Received files are written under destDir.
func New(cfg *config.Config, destDir string) *Session {
	s := &Session{
		cfg:     cfg,
		destDir: destDir,
		phase:   PhaseIdle,
		events:  make(chan Event, 64),
	}
	s.recv = proto.NewReceiver(func(name string) (*fileio.WriteStream, error) {
		return fileio.NewWriteStream(s.destDir, name)
	})
	return s
}

// Events returns the observer stream. One event is pushed per phase
// transition and per chunk; the channel is closed when the session ends.
// A slow observer loses intermediate snapshots, never ordering and never
// a transfer's terminal status.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Phase returns the current connection phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Start establishes the peer connection and data channel for the given role.
// Valid only from Idle.
func (s *Session) Start(ctx context.Context, role Role) error {
	s.mu.Lock()
	if s.phase != PhaseIdle || s.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start in phase %s", ErrInvalidState, s.phase)
	}
	s.mu.Unlock()

	peer := transport.NewPeer(s.cfg)
	pc, err := peer.Connect()
	if err != nil {
		return err
	}

	var ch transport.Channel
	if role == RoleInitiator {
		dc, err := transport.NewDataChannel(pc)
		if err != nil {
			pc.Close()
			return err
		}
		ch = dc
	} else {
		ch = transport.AcceptDataChannel(pc)
	}

	s.mu.Lock()
	s.peer = peer
	s.pc = pc
	s.mu.Unlock()

	return s.begin(ctx, role, ch, pc, peer.Failures())
}

// begin wires the session to an established channel and applier. Split from
// Start so the state machine can run against in-memory transports in tests.
func (s *Session) begin(ctx context.Context, role Role, ch transport.Channel, applier signal.Applier, failures <-chan *transport.ConnectionFailure) error {
	s.mu.Lock()
	if s.phase != PhaseIdle || s.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start in phase %s", ErrInvalidState, s.phase)
	}
	s.started = true
	s.role = role
	s.ch = ch
	s.exch = signal.NewExchange(applier)
	s.failures = failures
	if role == RoleInitiator {
		s.phase = PhaseAwaitingLocalDescription
	} else {
		s.phase = PhaseAwaitingRemoteDescription
	}
	phase := s.phase
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"role":  role.String(),
		"phase": phase.String(),
	}).Debug("session started")

	s.emit(Event{Phase: phase})
	go s.run(ctx)
	return nil
}

// LocalDescriptionBlob produces this side's connection description for the
// out-of-band exchange: the offer for the initiator, the answer for the
// responder once the remote offer has been applied. The blob is emitted once
// per negotiation, after candidate gathering completes.
func (s *Session) LocalDescriptionBlob(ctx context.Context) (string, error) {
	s.mu.Lock()
	role, phase, pc := s.role, s.phase, s.pc
	applied := s.exch != nil && s.exch.DescriptionApplied()
	s.mu.Unlock()

	if pc == nil {
		return "", fmt.Errorf("%w: session not started", ErrInvalidState)
	}

	switch role {
	case RoleInitiator:
		if phase != PhaseAwaitingLocalDescription {
			return "", fmt.Errorf("%w: local description already emitted", ErrInvalidState)
		}
		blob, err := signal.LocalOfferBlob(ctx, pc)
		if err != nil {
			return "", err
		}
		s.toPhase(PhaseAwaitingRemoteDescription)
		return blob, nil

	default:
		if phase != PhaseAwaitingRemoteDescription || !applied {
			return "", fmt.Errorf("%w: answer requires the remote offer first", ErrInvalidState)
		}
		return signal.LocalAnswerBlob(ctx, pc)
	}
}

// ApplyRemote consumes one pasted blob from the peer: the session
// description once, candidates incrementally in any order relative to it.
func (s *Session) ApplyRemote(blob string) error {
	sig, err := signal.Decode(blob)
	if err != nil {
		return err
	}

	s.mu.Lock()
	phase := s.phase
	exch := s.exch
	s.mu.Unlock()

	if exch == nil {
		return fmt.Errorf("%w: session not started", ErrInvalidState)
	}
	if sig.Description != nil && phase != PhaseAwaitingRemoteDescription {
		return fmt.Errorf("%w: not awaiting a remote description", ErrInvalidState)
	}
	if phase == PhaseIdle || phase.Terminal() {
		return fmt.Errorf("%w: cannot apply signals in phase %s", ErrInvalidState, phase)
	}

	if err := exch.ApplyRemote(sig); err != nil {
		if errors.Is(err, signal.ErrDescriptionApplied) {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return err
	}
	return nil
}

// BeginSend starts streaming the file at path to the peer. Valid only while
// the channel is open and no transfer is active; progress arrives on the
// event stream.
func (s *Session) BeginSend(ctx context.Context, path string) error {
	if err := s.checkSendable(); err != nil {
		return err
	}

	// The disk open happens outside the lock so a slow stat never stalls
	// frame handling; the phase is re-checked after.
	src, err := fileio.OpenSource(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch s.phase {
	case PhaseTransferring:
		s.mu.Unlock()
		src.Close()
		return ErrTransferInProgress
	case PhaseChannelOpen:
	default:
		phase := s.phase
		s.mu.Unlock()
		src.Close()
		return fmt.Errorf("%w: channel is %s", ErrNotConnected, phase)
	}

	sctx, cancel := context.WithCancel(ctx)
	s.sendCancel = cancel
	s.phase = PhaseTransferring
	ch := s.ch
	s.mu.Unlock()

	info := src.Info()
	start := time.Now()

	s.emit(Event{
		Phase:    PhaseTransferring,
		Progress: progressSnapshot(info.Name, info.Size, 0, 0, StatusActive),
	})

	sender := proto.NewSender(ch, src, proto.SenderConfig{
		ChunkSize:         s.cfg.WebRTC.ChunkSize,
		HighWaterMark:     s.cfg.WebRTC.HighWaterMark,
		DrainPollInterval: s.cfg.WebRTC.DrainPollInterval,
	}, func(bytes uint64) {
		s.emit(Event{
			Phase:    PhaseTransferring,
			Progress: progressSnapshot(info.Name, info.Size, bytes, time.Since(start).Seconds(), StatusActive),
		})
	})

	go func() {
		err := sender.Run(sctx)
		src.Close()
		cancel()

		s.mu.Lock()
		s.sendCancel = nil
		if s.phase == PhaseTransferring {
			s.phase = PhaseChannelOpen
		}
		phase := s.phase
		s.mu.Unlock()

		elapsed := time.Since(start).Seconds()
		switch {
		case err == nil:
			s.emit(Event{
				Phase:    phase,
				Progress: progressSnapshot(info.Name, info.Size, info.Size, elapsed, StatusCompleted),
			})
		case errors.Is(err, proto.ErrCancelled):
			s.emit(Event{
				Phase:    phase,
				Progress: progressSnapshot(info.Name, info.Size, 0, 0, StatusCancelled),
			})
		default:
			logrus.WithError(err).Error("send failed")
			p := progressSnapshot(info.Name, info.Size, 0, 0, StatusErrored)
			p.Err = err.Error()
			s.emit(Event{Phase: phase, Progress: p})
		}
	}()

	return nil
}

// checkSendable validates that the channel is open and no transfer is
// active.
func (s *Session) checkSendable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseTransferring:
		return ErrTransferInProgress
	case PhaseChannelOpen:
		return nil
	default:
		return fmt.Errorf("%w: channel is %s", ErrNotConnected, s.phase)
	}
}

// Cancel aborts the active transfer. A no-op outside Transferring.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.phase != PhaseTransferring {
		s.mu.Unlock()
		return
	}
	cancel := s.sendCancel
	receiving := s.recv.Active()
	fileName := s.recv.FileName()
	if receiving {
		// Notify the sender, then drop the partial file. Chunks already in
		// flight on the ordered channel are drained silently.
		if frame, err := proto.EncodeControl(proto.ControlFrame{Type: proto.ControlCancel}); err == nil {
			if err := s.ch.Send(frame, false); err != nil {
				logrus.WithError(err).Warn("failed to send cancel frame")
			}
		}
		s.recv.Abandon()
		s.phase = PhaseChannelOpen
	}
	s.mu.Unlock()

	if cancel != nil {
		// Cooperative: the send loop observes this at the next chunk
		// boundary and sends the cancel frame itself.
		cancel()
		return
	}
	if receiving {
		s.emit(Event{
			Phase:    PhaseChannelOpen,
			Progress: progressSnapshot(fileName, 0, 0, 0, StatusCancelled),
		})
	}
}

// Close destroys the session, tearing down the channel and any in-flight
// write stream. Closing mid-transfer is treated as an implicit cancel.
// Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	cancel := s.sendCancel
	s.recv.Reset()

	// Cancelled is reserved for an aborted transfer; tearing down before or
	// between transfers is a clean ending.
	switch s.phase {
	case PhaseTransferring:
		s.phase = PhaseCancelled
	case PhaseAwaitingLocalDescription, PhaseAwaitingRemoteDescription, PhaseChannelOpen:
		s.phase = PhaseCompleted
	}
	phase := s.phase
	ch, pc := s.ch, s.pc
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.emit(Event{Phase: phase})

	if ch != nil {
		ch.Close()
	}
	if pc != nil {
		pc.Close()
	}
	if !started {
		s.closeEvents()
	}

	logrus.WithField("phase", phase.String()).Debug("session closed")
	return nil
}

// run is the session's event loop: it waits for the channel to open, then
// routes incoming frames and transport failures until teardown.
func (s *Session) run(ctx context.Context) {
	defer s.closeEvents()

	select {
	case <-s.ch.Ready():
		s.toPhase(PhaseChannelOpen)
	case <-s.ch.Done():
		s.channelGone()
		return
	case failure := <-s.failures:
		s.fail(failure)
		return
	case <-ctx.Done():
		s.Close()
		return
	}

	for {
		select {
		case msg := <-s.ch.Messages():
			s.handleFrame(msg)
		case <-s.ch.Done():
			s.channelGone()
			return
		case failure := <-s.failures:
			s.fail(failure)
			return
		case <-ctx.Done():
			s.Close()
			return
		}
	}
}

// handleFrame feeds one incoming frame to the receiver and translates the
// result into phase transitions and progress events.
func (s *Session) handleFrame(msg transport.Message) {
	s.mu.Lock()
	update, err := s.recv.Handle(msg.Data, msg.Binary)

	if err != nil {
		// Fatal to the current transfer only; the channel stays usable.
		if s.phase == PhaseTransferring {
			s.phase = PhaseChannelOpen
		}
		phase := s.phase
		s.mu.Unlock()

		logrus.WithError(err).Error("transfer failed")
		p := progressSnapshot("", 0, 0, 0, StatusErrored)
		p.Err = err.Error()
		s.emit(Event{Phase: phase, Progress: p})
		return
	}

	var ev Event
	switch update.Kind {
	case proto.UpdateIgnored:
		s.mu.Unlock()
		return

	case proto.UpdateMetadata:
		s.phase = PhaseTransferring
		s.recvStart = time.Now()
		ev = Event{
			Phase:    PhaseTransferring,
			Progress: progressSnapshot(update.FileName, update.FileSize, 0, 0, StatusActive),
		}

	case proto.UpdateChunk:
		ev = Event{
			Phase:    s.phase,
			Progress: progressSnapshot(update.FileName, update.FileSize, update.Bytes, time.Since(s.recvStart).Seconds(), StatusActive),
		}

	case proto.UpdateCompleted:
		if s.phase == PhaseTransferring {
			s.phase = PhaseChannelOpen
		}
		p := progressSnapshot(update.FileName, update.FileSize, update.Bytes, time.Since(s.recvStart).Seconds(), StatusCompleted)
		p.SavedPath = update.SavedPath
		ev = Event{Phase: s.phase, Progress: p}

	case proto.UpdateCancelled:
		if s.phase == PhaseTransferring {
			s.phase = PhaseChannelOpen
		}
		// A peer cancel also aborts an outgoing send, if one is active.
		if s.sendCancel != nil {
			s.sendCancel()
		}
		ev = Event{
			Phase:    s.phase,
			Progress: progressSnapshot(update.FileName, update.FileSize, 0, 0, StatusCancelled),
		}
	}
	s.mu.Unlock()

	s.emit(ev)
}

// channelGone handles transport-level close. A clean remote close outside a
// transfer completes the session; mid-transfer it is an implicit cancel; a
// transport error moves the session to Errored.
func (s *Session) channelGone() {
	s.mu.Lock()
	if s.closed || s.phase.Terminal() {
		s.mu.Unlock()
		return
	}

	chErr := s.ch.Err()
	transferring := s.phase == PhaseTransferring
	cancel := s.sendCancel
	s.recv.Reset()

	switch {
	case chErr != nil:
		s.phase = PhaseErrored
	case transferring:
		s.phase = PhaseCancelled
	default:
		s.phase = PhaseCompleted
	}
	phase := s.phase
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if chErr != nil {
		logrus.WithError(chErr).Error("transport channel failed")
		p := progressSnapshot("", 0, 0, 0, StatusErrored)
		p.Err = chErr.Error()
		s.emit(Event{Phase: phase, Progress: p})
		return
	}
	s.emit(Event{Phase: phase})
}

// fail handles a peer connection failure reported outside the data channel.
func (s *Session) fail(failure *transport.ConnectionFailure) {
	s.mu.Lock()
	if s.closed || s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	cancel := s.sendCancel
	s.recv.Reset()
	s.phase = PhaseErrored
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	logrus.WithError(failure).Error("peer connection lost")
	p := progressSnapshot("", 0, 0, 0, StatusErrored)
	p.Err = failure.Error()
	s.emit(Event{Phase: PhaseErrored, Progress: p})
}

// toPhase records an unconditional transition and emits it.
func (s *Session) toPhase(phase Phase) {
	s.mu.Lock()
	if s.phase == phase || s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	logrus.WithFields(logrus.Fields{
		"from": s.phase.String(),
		"to":   phase.String(),
	}).Debug("phase transition")
	s.phase = phase
	s.mu.Unlock()

	s.emit(Event{Phase: phase})
}

// emit pushes an event without ever blocking the protocol path. A full
// buffer drops chunk snapshots; phase transitions and terminal statuses
// instead make room by discarding the oldest queued event, so a lagging
// observer loses intermediate progress but never an outcome.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}

	droppable := ev.Progress != nil && ev.Progress.Status == StatusActive
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		if droppable {
			return
		}
		select {
		case <-s.events:
		default:
		}
	}
}

func (s *Session) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}
