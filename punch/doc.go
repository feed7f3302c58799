// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package punch implements the rendezvous hole-punch collaborator that
// socket.Endpoint.RendezvousConnect delegates to.
//
// The core socket package treats the handshake algorithm as an external
// concern — it only needs something implementing socket.Puncher: send a
// prebuilt first packet toward a target repeatedly until a matching
// reply is observed, then report the address the reply actually arrived
// from. This package supplies two concrete implementations:
//
//   - [UDPRacer] performs the textbook simultaneous-open technique:
//     both sides fire their first packet at each other's believed
//     address and race it against inbound datagrams.
//   - [STUNReflexive] wraps a UDPRacer with an RFC 5389 STUN binding
//     request, resolving this host's server-reflexive (NAT-mapped)
//     address before racing begins — useful when the peer's address was
//     learned out-of-band as their last observed public mapping rather
//     than a LAN address.
package punch
