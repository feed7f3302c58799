// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package punch

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pion/stun/v3"

	"github.com/coldharbor/duplex/socket"
)

// Compile-time interface check.
var _ socket.Puncher = (*STUNReflexive)(nil)

// stunRequestTimeout bounds a single STUN binding round-trip.
const stunRequestTimeout = 2 * time.Second

// STUNReflexive wraps a UDPRacer with a preparatory RFC 5389 STUN
// binding request: before racing the first packet toward the peer, it
// resolves this host's server-reflexive (NAT-mapped) address against a
// configured STUN server and logs it. This is the standard step a real
// NAT-traversal client performs before handing its candidate address to
// a rendezvous/signaling channel — useful when the caller's remote
// endpoint was learned out-of-band as the peer's own last-observed
// public mapping rather than a LAN address.
//
// Resolving the reflexive address is advisory here: it does not change
// target, which the caller already supplied. A failed or skipped STUN
// round-trip still falls through to racing, unaffected.
type STUNReflexive struct {
	// Racer performs the actual hole-punch race once (or if) the STUN
	// step completes. Required.
	Racer *UDPRacer

	// Servers lists STUN servers (host:port) tried in order until one
	// responds. Empty skips the STUN step entirely.
	Servers []string

	// Logger receives the resolved address or the failure reason.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// PunchHole implements socket.Puncher.
func (s *STUNReflexive) PunchHole(ctx context.Context, conn net.PacketConn, target net.Addr, firstPacket []byte, onDone func(actual net.Addr, err error)) {
	go func() {
		if addr, err := s.resolveReflexive(ctx, conn); err != nil {
			if len(s.Servers) > 0 {
				s.logger().Warn("stun reflexive address resolution failed", "error", err)
			}
		} else {
			s.logger().Info("resolved server-reflexive address", "addr", addr)
		}
		s.Racer.PunchHole(ctx, conn, target, firstPacket, onDone)
	}()
}

func (s *STUNReflexive) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// resolveReflexive tries each configured STUN server in order, returning
// the first successfully resolved mapped address.
func (s *STUNReflexive) resolveReflexive(ctx context.Context, conn net.PacketConn) (net.Addr, error) {
	var lastErr error
	for _, server := range s.Servers {
		addr, err := stunBindingRequest(ctx, conn, server)
		if err == nil {
			return addr, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no stun servers configured")
	}
	return nil, lastErr
}

// stunBindingRequest performs one RFC 5389 binding request/response
// round-trip against server over conn, returning the XOR-mapped address
// the server observed us sending from.
func stunBindingRequest(ctx context.Context, conn net.PacketConn, server string) (net.Addr, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolving stun server %s: %w", server, err)
	}

	request, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("building stun binding request: %w", err)
	}

	deadline := time.Now().Add(stunRequestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	type deadliner interface{ SetReadDeadline(time.Time) error }
	if d, ok := conn.(deadliner); ok {
		_ = d.SetReadDeadline(deadline)
		defer d.SetReadDeadline(time.Time{})
	}

	if _, err := conn.WriteTo(request.Raw, serverAddr); err != nil {
		return nil, fmt.Errorf("sending stun binding request to %s: %w", server, err)
	}

	buf := make([]byte, socket.PacketSize)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("reading stun binding response from %s: %w", server, err)
	}

	response := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
	if err := response.Decode(); err != nil {
		return nil, fmt.Errorf("decoding stun binding response from %s: %w", server, err)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(response); err != nil {
		return nil, fmt.Errorf("reading xor-mapped-address from %s: %w", server, err)
	}

	return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
}
