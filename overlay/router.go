// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/coldharbor/duplex/socket"
)

// Router owns a collection of socket.Endpoints, one per remote peer,
// keyed by UUID identity. It is the only place in duplex where UUIDs
// and network sockets meet — the core package never imports
// "github.com/google/uuid" at all.
type Router struct {
	mu        sync.Mutex
	endpoints map[uuid.UUID]*socket.Endpoint

	puncher socket.Puncher
	opts    []socket.Option
	logger  *slog.Logger
}

// NewRouter creates a Router that dials new peer endpoints using
// puncher for rendezvous connection establishment. opts are applied to
// every Endpoint the Router creates (e.g. socket.WithConfig,
// socket.WithClock).
func NewRouter(puncher socket.Puncher, logger *slog.Logger, opts ...socket.Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		endpoints: make(map[uuid.UUID]*socket.Endpoint),
		puncher:   puncher,
		opts:      opts,
		logger:    logger,
	}
}

// Connect returns the existing endpoint for peerID if one is already
// registered, otherwise it opens a fresh UDP handle, creates a new
// socket.Endpoint, and drives RendezvousConnect toward remoteEndpoint.
// It blocks until rendezvous succeeds, fails, or ctx is done.
func (r *Router) Connect(ctx context.Context, peerID uuid.UUID, remoteEndpoint net.Addr) (*socket.Endpoint, error) {
	if ep, ok := r.Endpoint(peerID); ok {
		return ep, nil
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("overlay: opening socket for peer %s: %w", peerID, err)
	}

	fingerprint := correlationFingerprint(conn.LocalAddr(), remoteEndpoint, peerID)
	peerLogger := r.logger.With("peer", peerID.String(), "fingerprint", fingerprint)

	opts := append(append([]socket.Option{}, r.opts...), socket.WithLogger(peerLogger))
	ep := socket.New(conn, r.puncher, opts...)

	r.mu.Lock()
	r.endpoints[peerID] = ep
	r.mu.Unlock()

	type outcome struct{ err error }
	done := make(chan outcome, 1)
	ep.RendezvousConnect(remoteEndpoint, func(err error) {
		done <- outcome{err}
	})

	select {
	case result := <-done:
		if result.err != nil {
			r.forget(peerID)
			_ = ep.Close()
			return nil, fmt.Errorf("overlay: connecting to peer %s: %w", peerID, result.err)
		}
		peerLogger.Info("peer connected", "remote", remoteEndpoint.String())
		return ep, nil

	case <-ctx.Done():
		r.forget(peerID)
		_ = ep.Close()
		return nil, fmt.Errorf("overlay: connecting to peer %s: %w", peerID, ctx.Err())
	}
}

// Endpoint returns the registered endpoint for peerID, if any.
func (r *Router) Endpoint(peerID uuid.UUID) (*socket.Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[peerID]
	return ep, ok
}

// CloseAll closes every endpoint the Router owns and forgets them.
func (r *Router) CloseAll() {
	r.mu.Lock()
	endpoints := make([]*socket.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		endpoints = append(endpoints, ep)
	}
	r.endpoints = make(map[uuid.UUID]*socket.Endpoint)
	r.mu.Unlock()

	for _, ep := range endpoints {
		_ = ep.Close()
	}
}

func (r *Router) forget(peerID uuid.UUID) {
	r.mu.Lock()
	delete(r.endpoints, peerID)
	r.mu.Unlock()
}
