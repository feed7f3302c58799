// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import "encoding/binary"

// ackSetWindow is the number of sequence numbers tracked by the bitmap,
// starting at base itself. Fixed so the wire format is bit-exact across a
// deployment.
const ackSetWindow = 64

// ackSetWireSize is the encoded size of an AckSet: a 4-byte base plus an
// 8-byte bitmap.
const ackSetWireSize = 4 + 8

// AckSet is a compact representation of a contiguous window of received
// reliable sequence numbers: a base SN below which every SN is known
// received, plus a fixed-width bitmap covering base and the
// ackSetWindow-1 SNs after it.
//
// base holds the lowest SN not yet known to be contiguously received
// from the start of the sequence — every sn' < base is known received,
// and base itself is not. The zero value therefore means exactly
// "nothing received yet": it does not alias SN 0 as already known, so
// IsIn(0)/CanAdd(0) behave correctly on a fresh AckSet.
type AckSet struct {
	base uint32
	bits uint64
}

// Base reports the lowest SN not yet known to be contiguously received;
// every sn' < Base is known received. It is 0 before anything has been
// received.
func (a *AckSet) Base() uint32 { return a.base }

// IsIn reports whether sn is already recorded as received, either because
// it is below base or because its bit is set in the window.
func (a *AckSet) IsIn(sn uint32) bool {
	if sn < a.base {
		return true
	}
	offset := sn - a.base
	if offset >= ackSetWindow {
		return false
	}
	return a.bits&(1<<offset) != 0
}

// CanAdd reports whether sn is a legitimate candidate for TryAdd: not
// already known received, and within the sliding window. It does not
// mutate the set.
func (a *AckSet) CanAdd(sn uint32) bool {
	if sn < a.base {
		return false
	}
	offset := sn - a.base
	if offset >= ackSetWindow {
		return false
	}
	return a.bits&(1<<offset) == 0
}

// TryAdd records sn as received, sliding the base forward through any
// contiguous run of set bits that follows. It reports whether sn was
// newly recorded (false if it was already known, or lay outside the
// window and could not be recorded).
func (a *AckSet) TryAdd(sn uint32) bool {
	if !a.CanAdd(sn) {
		return false
	}
	offset := sn - a.base
	a.bits |= 1 << offset
	for a.bits&1 != 0 {
		a.base++
		a.bits >>= 1
	}
	return true
}

// EncodeTo appends the wire encoding of a to dst and returns the
// extended slice.
func (a *AckSet) EncodeTo(dst []byte) []byte {
	var buf [ackSetWireSize]byte
	binary.BigEndian.PutUint32(buf[0:4], a.base)
	binary.BigEndian.PutUint64(buf[4:12], a.bits)
	return append(dst, buf[:]...)
}

// DecodeAckSet decodes an AckSet from the front of src, returning the
// decoded set and the unconsumed remainder. It fails if src is shorter
// than the fixed wire size.
func DecodeAckSet(src []byte) (AckSet, []byte, bool) {
	if len(src) < ackSetWireSize {
		return AckSet{}, src, false
	}
	a := AckSet{
		base: binary.BigEndian.Uint32(src[0:4]),
		bits: binary.BigEndian.Uint64(src[4:12]),
	}
	return a, src[ackSetWireSize:], true
}
