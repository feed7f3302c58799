// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package punch

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/coldharbor/duplex/socket"
)

// Compile-time interface check.
var _ socket.Puncher = (*UDPRacer)(nil)

const (
	defaultRetryInterval = 250 * time.Millisecond
	defaultTimeout       = 30 * time.Second
)

// racerResult is the outcome of the single ReadFrom raced against
// firstPacket's retransmissions.
type racerResult struct {
	addr net.Addr
	err  error
}

// UDPRacer implements socket.Puncher with the textbook simultaneous-open
// technique for NAT traversal: re-send firstPacket toward target on a
// fixed interval while racing it against whatever datagram arrives
// first on conn. In the common case that datagram is the peer's own
// first packet, sent toward us at roughly the same moment — each side's
// outbound packet is what carves the NAT binding the other side's reply
// needs to pass through.
//
// The datagram consumed to learn the peer's actual address is not fed
// back into the caller; it is simply discarded. This is safe because
// the message racing in to be punched is itself retransmitted by the
// caller's Transmit Queue until acknowledged (see socket.Endpoint) — it
// will arrive again once the regular receive loop takes over.
type UDPRacer struct {
	// RetryInterval is how often firstPacket is re-sent while waiting
	// for a reply. Defaults to 250ms.
	RetryInterval time.Duration

	// Timeout bounds the whole handshake from PunchHole's perspective;
	// exceeding it without a reply reports an error. Defaults to 30s.
	// Ignored if ctx carries an earlier deadline.
	Timeout time.Duration
}

// NewUDPRacer returns a UDPRacer with the given tunables, stored as
// given; PunchHole uses the package defaults in place of zero values.
func NewUDPRacer(retryInterval, timeout time.Duration) *UDPRacer {
	return &UDPRacer{RetryInterval: retryInterval, Timeout: timeout}
}

// PunchHole implements socket.Puncher.
func (p *UDPRacer) PunchHole(ctx context.Context, conn net.PacketConn, target net.Addr, firstPacket []byte, onDone func(actual net.Addr, err error)) {
	go p.run(ctx, conn, target, firstPacket, onDone)
}

func (p *UDPRacer) run(ctx context.Context, conn net.PacketConn, target net.Addr, firstPacket []byte, onDone func(actual net.Addr, err error)) {
	retryInterval := p.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan racerResult, 1)
	go func() {
		buf := make([]byte, socket.PacketSize)
		_, addr, err := conn.ReadFrom(buf)
		resultCh <- racerResult{addr: addr, err: err}
	}()

	if _, err := conn.WriteTo(firstPacket, target); err != nil {
		onDone(nil, fmt.Errorf("punch: initial send to %s: %w", target, err))
		return
	}

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-resultCh:
			if res.err != nil {
				onDone(nil, fmt.Errorf("punch: %w", res.err))
				return
			}
			onDone(res.addr, nil)
			return

		case <-ticker.C:
			// Best-effort retry: a transient send failure doesn't abort
			// the race, since the peer may still reach us first.
			_, _ = conn.WriteTo(firstPacket, target)

		case <-ctx.Done():
			unblockRead(conn, resultCh)
			onDone(nil, fmt.Errorf("punch: %w", ctx.Err()))
			return
		}
	}
}

// unblockRead forces the outstanding ReadFrom in run's reader goroutine
// to return by setting an already-past read deadline, then drains its
// result so the goroutine doesn't leak and restores an unbounded
// deadline so a later, successful PunchHole call (or the endpoint's own
// receive loop once connected) isn't left with a stale deadline.
func unblockRead(conn net.PacketConn, resultCh <-chan racerResult) {
	type deadliner interface{ SetReadDeadline(time.Time) error }
	d, ok := conn.(deadliner)
	if !ok {
		return
	}
	_ = d.SetReadDeadline(time.Now())
	go func() {
		<-resultCh
		_ = d.SetReadDeadline(time.Time{})
	}()
}
