// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import "errors"

// ErrParseFailure indicates a received packet could not be decoded. Fatal:
// the endpoint closes.
var ErrParseFailure = errors.New("socket: malformed packet")

// ErrTimedOut indicates the receive-timeout alarm fired without any
// datagram arriving. Fatal: the endpoint closes.
var ErrTimedOut = errors.New("socket: receive timed out")

// ErrConnectionReset indicates the peer sent a close message. Fatal: the
// endpoint closes.
var ErrConnectionReset = errors.New("socket: connection reset by peer")

// ErrClosed is returned by operations attempted on an endpoint that has
// already closed.
var ErrClosed = errors.New("socket: endpoint closed")

// ErrNotConnected is returned by Send* and Flush when called before
// RendezvousConnect has completed successfully.
var ErrNotConnected = errors.New("socket: endpoint not connected")
