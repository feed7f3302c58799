// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package socket implements the core of a reliable-plus-unreliable
// datagram transport over UDP: a per-peer connection endpoint providing
// rendezvous connection establishment, a multiplexed two-stream delivery
// service, fragmentation and reassembly, piggy-backed acknowledgments,
// keepalive and receive-timeout liveness, a congestion pacer, and
// orderly close.
//
// An Endpoint owns exactly one UDP handle and one remote peer. Fanning
// traffic across many peers, UUID identity, and the hole-punch handshake
// algorithm itself are the concern of collaborating packages — see
// duplex's overlay and punch packages.
package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coldharbor/duplex/lib/clock"
	"github.com/coldharbor/duplex/lib/netutil"
)

// Puncher performs the rendezvous handshake that establishes which
// remote address a peer is actually reachable at. The algorithm itself
// is outside this package's concern; RendezvousConnect only needs the
// contract: send firstPacket toward target repeatedly until a matching
// reply is observed (or ctx is cancelled), then report the address the
// reply actually arrived from.
type Puncher interface {
	PunchHole(ctx context.Context, conn net.PacketConn, target net.Addr, firstPacket []byte, onDone func(actual net.Addr, err error))
}

// Config holds the tunables a deployment can retune.
type Config struct {
	// KeepAlivePeriod is how long the send loop waits with nothing to
	// do before enqueuing a keepalive message.
	KeepAlivePeriod time.Duration

	// ReceiveTimeoutPeriod is how long the receive loop waits for any
	// datagram before declaring the peer unreachable.
	ReceiveTimeoutPeriod time.Duration

	// PacerMicrosPerByte sets the congestion pacer's delay per byte of
	// the last packet sent (0 for loopback remotes regardless).
	PacerMicrosPerByte time.Duration

	// MaxPendingReliableMessages bounds the pending-reassembly map when
	// no reliable receive callback is ever registered to drain it. Zero
	// means unbounded, matching the wire contract as specified.
	MaxPendingReliableMessages int
}

// DefaultConfig returns the tunables implied directly by the wire
// contract: a 200ms keepalive, a 1000ms receive timeout, and a pacer
// modeling a conservative 40 kbit/s floor.
func DefaultConfig() Config {
	return Config{
		KeepAlivePeriod:      200 * time.Millisecond,
		ReceiveTimeoutPeriod: 1000 * time.Millisecond,
		PacerMicrosPerByte:   200 * time.Microsecond,
	}
}

// Option configures an Endpoint at construction time.
type Option func(*Endpoint)

// WithClock injects a clock.Clock, overriding the default clock.Real().
// Tests should inject clock.Fake() to control the pacer, keepalive, and
// receive-timeout alarms deterministically.
func WithClock(c clock.Clock) Option {
	return func(e *Endpoint) { e.clock = c }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Endpoint) { e.logger = logger }
}

// WithConfig overrides the default tunables.
func WithConfig(cfg Config) Option {
	return func(e *Endpoint) { e.cfg = cfg }
}

type lifecycleState uint8

const (
	statePending lifecycleState = iota
	stateActive
	stateClosed
)

func (s lifecycleState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type sendState uint8

const (
	sendPending sendState = iota
	sendSending
	sendWaiting
)

// destructionToken is a small flag shared between the endpoint and every
// scheduled continuation — a timer callback, a step of datagram dispatch
// — so that a continuation can notice, even after a user callback has
// synchronously closed the endpoint, that it must stop touching endpoint
// state.
type destructionToken struct {
	mu        sync.Mutex
	destroyed bool
}

func (t *destructionToken) destroy() {
	t.mu.Lock()
	t.destroyed = true
	t.mu.Unlock()
}

func (t *destructionToken) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

// Endpoint is a per-peer connection over UDP. Every public operation is
// non-blocking: it either reads a lock-free snapshot directly or hands
// a closure to the loop goroutine without waiting for it to run, so a
// user callback invoked synchronously from the loop (a receive handler,
// a close cause) can freely call back into its own endpoint — including
// Close — without round-tripping through a channel the loop goroutine
// itself is currently blocked on. Completions are delivered via user
// callbacks invoked on the endpoint's own serialized event loop, never
// concurrently with each other or with another public method call.
type Endpoint struct {
	conn    net.PacketConn
	puncher Puncher
	clock   clock.Clock
	logger  *slog.Logger
	cfg     Config

	token *destructionToken

	ops      chan func()
	loopDone chan struct{}
	stopped  bool

	// atomicState and atomicRemoteAddr mirror state/remoteAddr for
	// lock-free reads from any goroutine. They are written only from
	// the loop goroutine, alongside the fields they mirror, through
	// setState/setRemoteAddr.
	atomicState      atomic.Uint32
	atomicRemoteAddr atomic.Pointer[net.Addr]

	remoteAddr net.Addr
	state      lifecycleState

	queue     TransmitQueue
	sendState sendState

	localAcks AckSet // reliable SNs we have received from the peer
	peerAcked AckSet // reliable SNs the peer has told us it received

	pendingAcksToSend bool

	nextReliableSN   uint32
	nextUnreliableSN uint32

	syncSeen                 bool
	lastDeliveredReliableSN  uint32
	lastDeliveredUnreliableSN uint32

	pendingReliable   map[uint32]*PendingMessage
	pendingUnreliable *PendingMessage

	reliableCB   func([]byte, error)
	unreliableCB func([]byte, error)
	flushCB      func()

	keepaliveTimer       *clock.Timer
	receiveTimeoutTimer  *clock.Timer
	pacerTimer           *clock.Timer

	lastSendSize int
}

// New creates a pending Endpoint bound to conn. It is not usable until
// RendezvousConnect succeeds. conn's lifetime is owned by the Endpoint
// from this point on: Close closes it.
func New(conn net.PacketConn, puncher Puncher, opts ...Option) *Endpoint {
	e := &Endpoint{
		conn:             conn,
		puncher:          puncher,
		clock:            clock.Real(),
		logger:           slog.Default(),
		cfg:              DefaultConfig(),
		token:            &destructionToken{},
		ops:              make(chan func(), 64),
		loopDone:         make(chan struct{}),
		state:            statePending,
		pendingReliable:  make(map[uint32]*PendingMessage),
		nextReliableSN:   0,
		nextUnreliableSN: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.loop()
	return e
}

// submit enqueues fn to run on the endpoint's single loop goroutine. It
// is a no-op once the loop has stopped.
func (e *Endpoint) submit(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.loopDone:
	}
}

// setState transitions the endpoint's lifecycle state, keeping the
// lock-free atomicState mirror in sync so Send*/Flush/Close can check it
// without submitting to the loop. Must only be called from the loop
// goroutine.
func (e *Endpoint) setState(s lifecycleState) {
	e.state = s
	e.atomicState.Store(uint32(s))
}

// setRemoteAddr records the address established by RendezvousConnect,
// keeping the lock-free atomicRemoteAddr mirror in sync so RemoteAddr
// never has to touch the loop. Must only be called from the loop
// goroutine.
func (e *Endpoint) setRemoteAddr(addr net.Addr) {
	e.remoteAddr = addr
	e.atomicRemoteAddr.Store(&addr)
}

// loop is the endpoint's single cooperative event-loop goroutine: every
// public call, every datagram, and every timer expiry is funneled
// through e.ops and runs here, one at a time, never concurrently with
// anything else touching endpoint state.
func (e *Endpoint) loop() {
	for fn := range e.ops {
		fn()
		if e.stopped {
			close(e.loopDone)
			return
		}
	}
}

// RendezvousConnect initiates hole punching toward remoteEP. onConnect
// fires exactly once, with a non-nil error on failure. If the endpoint
// is closed before the handshake completes, onConnect does not fire.
func (e *Endpoint) RendezvousConnect(remoteEP net.Addr, onConnect func(error)) {
	if udpAddr, ok := remoteEP.(*net.UDPAddr); ok {
		remoteEP = netutil.RewriteUnspecified(udpAddr)
	}

	syncMsg := &OutMessage{
		Type:             TypeSync,
		SequenceNumber:   e.nextReliableSN,
		ResendUntilAcked: true,
	}
	e.nextReliableSN++

	firstPacket, countOffset := EncodePacketPrefix(nil, &AckSet{})
	firstPacket, wrote := syncMsg.EncodeHeaderAndPayload(firstPacket, PacketSize)
	if !wrote {
		// A zero-payload sync always fits; this cannot happen in
		// practice, but fail safe rather than send a malformed probe.
		onConnect(fmt.Errorf("socket: sync message would not fit in one packet"))
		return
	}
	PatchMessageCount(firstPacket, countOffset, 1)

	e.puncher.PunchHole(context.Background(), e.conn, remoteEP, firstPacket, func(actual net.Addr, err error) {
		e.submit(func() {
			if e.token.isDestroyed() || e.state != statePending {
				return
			}
			if err != nil {
				onConnect(fmt.Errorf("rendezvous connect: %w", err))
				return
			}
			e.setRemoteAddr(actual)
			e.setState(stateActive)
			e.queue.Insert(syncMsg)
			go e.readLoop()
			e.armReceiveTimeout()
			e.startSending()
			onConnect(nil)
		})
	})
}

// LocalAddr returns the local UDP address this endpoint is bound to.
// This is the address the Router/overlay shell surfaces to callers
// that need it; the core itself never inspects it.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RemoteAddr returns the remote address established by
// RendezvousConnect, or nil before it has succeeded. It reads a
// lock-free snapshot and never blocks, so it is safe to call from
// inside a user callback running on the endpoint's own loop goroutine.
func (e *Endpoint) RemoteAddr() net.Addr {
	if p := e.atomicRemoteAddr.Load(); p != nil {
		return *p
	}
	return nil
}

// ReceiveReliable registers a one-shot callback for the next complete
// message on the reliable stream. The callback is moved out before
// invocation, so calling ReceiveReliable again from within cb re-arms
// the hook for the next message.
func (e *Endpoint) ReceiveReliable(cb func(payload []byte, err error)) {
	e.submit(func() {
		if e.state == stateClosed {
			return
		}
		e.reliableCB = cb
		e.replayPending()
	})
}

// ReceiveUnreliable registers a one-shot callback for the next message
// delivered on the unreliable stream.
func (e *Endpoint) ReceiveUnreliable(cb func(payload []byte, err error)) {
	e.submit(func() {
		if e.state == stateClosed {
			return
		}
		e.unreliableCB = cb
	})
}

// SendReliable enqueues payload on the reliable stream. It will be
// retained and retransmitted until the peer acknowledges its sequence
// number. It returns ErrClosed if the endpoint has already closed, or
// ErrNotConnected if called before RendezvousConnect has completed
// successfully; otherwise it hands the message to the loop and returns
// immediately, without waiting for the loop to act on it, so it never
// blocks — even when called from a callback running on the loop itself.
func (e *Endpoint) SendReliable(payload []byte) error {
	if err := e.checkSendable(); err != nil {
		return err
	}
	e.submit(func() {
		if e.state != stateActive {
			return
		}
		msg := &OutMessage{
			ResendUntilAcked: true,
			Type:             TypeReliable,
			SequenceNumber:   e.nextReliableSN,
			Payload:          payload,
		}
		e.nextReliableSN++
		e.queue.Insert(msg)
		e.startSending()
	})
	return nil
}

// SendUnreliable enqueues payload on the unreliable stream. It is
// transmitted at most once, win or lose. It returns ErrClosed or
// ErrNotConnected under the same conditions as SendReliable, and is
// equally non-blocking.
func (e *Endpoint) SendUnreliable(payload []byte) error {
	if err := e.checkSendable(); err != nil {
		return err
	}
	e.submit(func() {
		if e.state != stateActive {
			return
		}
		msg := &OutMessage{
			Type:           TypeUnreliable,
			SequenceNumber: e.nextUnreliableSN,
			Payload:        payload,
		}
		e.nextUnreliableSN++
		e.queue.Insert(msg)
		e.startSending()
	})
	return nil
}

// Flush registers cb to fire exactly once, the next time the transmit
// queue is empty and there is nothing left to acknowledge. It returns
// ErrClosed or ErrNotConnected under the same conditions as
// SendReliable, in which case cb is never invoked. Like SendReliable,
// registration is handed to the loop without waiting for it to run.
func (e *Endpoint) Flush(cb func()) error {
	if err := e.checkSendable(); err != nil {
		return err
	}
	e.submit(func() {
		if e.state != stateActive {
			return
		}
		e.flushCB = cb
		if e.queue.Len() == 0 && !e.pendingAcksToSend {
			fn := e.flushCB
			e.flushCB = nil
			fn()
		}
	})
	return nil
}

// checkSendable reports whether the endpoint is in a state that accepts
// Send*/Flush calls. It reads the lock-free atomicState mirror, so it
// is safe to call from any goroutine without touching the loop.
func (e *Endpoint) checkSendable() error {
	switch lifecycleState(e.atomicState.Load()) {
	case stateClosed:
		return ErrClosed
	case stateActive:
		return nil
	default:
		return ErrNotConnected
	}
}

// Close is idempotent and non-blocking: it marks the endpoint closed
// immediately (so a Send*/Flush/Close call racing it, even one made
// from a callback Close itself is about to invoke, observes the new
// state right away) and hands the actual teardown — emitting one
// best-effort packet containing a close message, closing the UDP
// handle, stopping its alarms, and dropping any registered receive
// callbacks without invoking them — to the loop goroutine. It never waits for that teardown
// to finish, so it cannot deadlock when called from a callback running
// on the loop itself. It always returns nil.
func (e *Endpoint) Close() error {
	e.atomicState.Store(uint32(stateClosed))
	e.submit(func() { e.closeLocked(nil) })
	return nil
}

// closeLocked performs the actual close transition. Must only be called
// from the loop goroutine. cause, if non-nil, is delivered to any
// registered receive callbacks; it is nil for a local, voluntary close.
func (e *Endpoint) closeLocked(cause error) {
	if e.state == stateClosed {
		return
	}
	wasActive := e.state == stateActive
	e.setState(stateClosed)
	e.token.destroy()
	e.stopTimers()

	if wasActive && cause == nil {
		closeMsg := &OutMessage{Type: TypeClose}
		buf, offset := EncodePacketPrefix(nil, &e.localAcks)
		buf, wrote := closeMsg.EncodeHeaderAndPayload(buf, PacketSize)
		if wrote {
			PatchMessageCount(buf, offset, 1)
			_, _ = e.conn.WriteTo(buf, e.remoteAddr)
		}
	}

	_ = e.conn.Close()
	e.logger.Info("socket endpoint closed", "remote", addrString(e.remoteAddr), "cause", causeString(cause))

	reliableCB, unreliableCB := e.reliableCB, e.unreliableCB
	e.reliableCB, e.unreliableCB = nil, nil
	if cause != nil {
		if reliableCB != nil {
			reliableCB(nil, cause)
		}
		if unreliableCB != nil {
			unreliableCB(nil, cause)
		}
	}

	e.stopped = true
}

func (e *Endpoint) stopTimers() {
	if e.keepaliveTimer != nil {
		e.keepaliveTimer.Stop()
	}
	if e.receiveTimeoutTimer != nil {
		e.receiveTimeoutTimer.Stop()
	}
	if e.pacerTimer != nil {
		e.pacerTimer.Stop()
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

func causeString(err error) string {
	if err == nil {
		return "local close"
	}
	return err.Error()
}

// readLoop blocks on UDP receive completion and forwards each datagram
// (or terminal error) to the endpoint's loop goroutine. It exits once
// the connection is closed.
func (e *Endpoint) readLoop() {
	buf := make([]byte, PacketSize)
	for {
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				return
			}
			e.submit(func() { e.onReceiveError(err) })
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.submit(func() { e.onDatagram(data, addr) })
	}
}

func (e *Endpoint) onReceiveError(err error) {
	if e.token.isDestroyed() || e.state != stateActive {
		return
	}
	e.fatal(fmt.Errorf("receive: %w", err))
}

// fatal closes the endpoint on an unrecoverable error: stops both
// alarms, closes the UDP handle if open, moves out both receive
// callbacks, and invokes them with err.
func (e *Endpoint) fatal(err error) {
	e.closeLocked(err)
}
