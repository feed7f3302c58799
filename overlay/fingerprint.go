// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"encoding/hex"
	"net"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// fingerprintDomainKey domain-separates the Router's debug fingerprint
// from any other BLAKE3 keyed hash a caller's process might compute
// (e.g. content hashes), so the same input bytes never collide across
// unrelated purposes. Fixed: changing it changes every fingerprint a
// deployment has ever logged.
var fingerprintDomainKey = [32]byte{
	'd', 'u', 'p', 'l', 'e', 'x', '.', 'o', 'v', 'e', 'r', 'l', 'a', 'y', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0, 0, 0,
}

// fingerprintHexLength is how many leading hex characters of the full
// digest are kept — a fingerprint is for eyeballing log correlation
// across the Router and its endpoints, not as a collision-resistant
// identifier, so the full 32 bytes would be needless noise.
const fingerprintHexLength = 12

// correlationFingerprint derives a short, stable, human-scannable
// identifier for one peer connection from its local address, remote
// address, and UUID identity, so a log line from the Router and a log
// line from the socket.Endpoint it created can be correlated by eye
// without printing three separate fields every time.
func correlationFingerprint(local, remote net.Addr, peerID uuid.UUID) string {
	hasher, err := blake3.NewKeyed(fingerprintDomainKey[:])
	if err != nil {
		// blake3.NewKeyed only fails on a wrong-length key, which
		// fingerprintDomainKey's fixed size rules out.
		panic("overlay: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	writeAddr := func(addr net.Addr) {
		if addr == nil {
			return
		}
		hasher.Write([]byte(addr.String()))
	}
	writeAddr(local)
	hasher.Write([]byte{0})
	writeAddr(remote)
	hasher.Write([]byte{0})
	hasher.Write(peerID[:])

	digest := hasher.Sum(nil)
	return hex.EncodeToString(digest)[:fingerprintHexLength]
}
