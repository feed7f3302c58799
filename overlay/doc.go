// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package overlay supplies a thin, multi-peer shell over the core socket
// package: something that owns N socket.Endpoints and keys them by peer
// identity. The core itself knows nothing about peer
// identity — that surfaces here, where endpoints are addressed by
// [uuid.UUID] rather than by raw network address.
//
// Router does not forward traffic between peers, and does not implement
// routing policy, retry budgets, or peer discovery; callers drive Connect explicitly and are responsible for
// learning a peer's rendezvous address out of band (typically via a
// signaling channel this package doesn't know about).
package overlay
