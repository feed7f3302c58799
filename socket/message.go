// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import "sort"

// MessageType tags the role a message part plays on the wire. Bit-exact
// assignment is arbitrary but stable within this implementation.
type MessageType uint8

const (
	TypeSync MessageType = iota
	TypeReliable
	TypeUnreliable
	TypeKeepAlive
	TypeClose
)

func (t MessageType) isSequenced() bool {
	return t == TypeReliable || t == TypeUnreliable
}

// messagePartHeaderSize is the fixed wire size of one message part's
// header, excluding payload: type, reliable, sn, total_size, chunk_start,
// chunk_len.
const messagePartHeaderSize = 1 + 1 + 4 + 2 + 2 + 2

// OutMessage is a to-be-sent message together with its in-flight
// fragmentation cursor. Owned by the TransmitQueue.
type OutMessage struct {
	ResendUntilAcked bool
	Type             MessageType
	SequenceNumber   uint32
	Payload          []byte

	// BytesAlreadySent is the fragmentation cursor: how many leading
	// payload bytes have already been emitted on the wire. Reset to 0
	// once the last byte is emitted so a subsequent retransmit restarts
	// from the beginning.
	BytesAlreadySent int
}

// ackTracked reports whether this message's sequence number lives in the
// reliable-stream ack space and therefore should be pruned from the
// transmit queue once the peer's ack set confirms receipt. Both
// reliable messages and the initial sync message qualify — sync
// consumes the first reliable SN and is retransmitted exactly like any
// other reliable message until acked.
func (m *OutMessage) ackTracked() bool {
	return m.Type == TypeReliable || m.Type == TypeSync
}

// fullyFragmented reports whether every payload byte has been emitted at
// least once since the cursor last reset.
func (m *OutMessage) fullyFragmented() bool {
	return m.BytesAlreadySent >= len(m.Payload)
}

// EncodeHeaderAndPayload writes this message's header and as many payload
// bytes (starting at the current fragmentation cursor) as fit within the
// remaining room of dst, given the packet may grow to at most maxLen
// bytes total. It reports whether anything was written at all: a part
// is only emitted if the
// header plus at least one payload byte fit, unless the payload is
// empty (sync/keep_alive/close), in which case the header alone
// suffices.
//
// On success it returns the extended buffer and advances
// BytesAlreadySent by the number of payload bytes consumed.
func (m *OutMessage) EncodeHeaderAndPayload(dst []byte, maxLen int) (out []byte, wrote bool) {
	remaining := maxLen - len(dst)
	totalSize := len(m.Payload)
	chunkStart := m.BytesAlreadySent

	if totalSize == 0 {
		if remaining < messagePartHeaderSize {
			return dst, false
		}
		out = encodeMessagePartHeader(dst, m.Type, m.ackTracked(), m.SequenceNumber, 0, 0, 0)
		return out, true
	}

	if remaining < messagePartHeaderSize+1 {
		return dst, false
	}
	chunkLen := remaining - messagePartHeaderSize
	if avail := totalSize - chunkStart; chunkLen > avail {
		chunkLen = avail
	}
	if chunkLen <= 0 {
		return dst, false
	}

	out = encodeMessagePartHeader(dst, m.Type, m.ackTracked(), m.SequenceNumber, uint16(totalSize), uint16(chunkStart), uint16(chunkLen))
	out = append(out, m.Payload[chunkStart:chunkStart+chunkLen]...)
	m.BytesAlreadySent += chunkLen
	return out, true
}

// PendingMessage is a partially received message awaiting the remaining
// fragments that complete it.
type PendingMessage struct {
	SequenceNumber uint32
	TotalSize      uint16
	Payload        []byte
	coverage       byteRanges
}

// newPendingMessage allocates a PendingMessage pre-sized to totalSize.
func newPendingMessage(sn uint32, totalSize uint16) *PendingMessage {
	return &PendingMessage{
		SequenceNumber: sn,
		TotalSize:      totalSize,
		Payload:        make([]byte, totalSize),
	}
}

// Update copies bytes into the pre-sized payload buffer starting at
// chunkStart and unions the covered byte range.
func (p *PendingMessage) Update(chunkStart uint16, bytes []byte) {
	copy(p.Payload[chunkStart:], bytes)
	p.coverage.add(int(chunkStart), int(chunkStart)+len(bytes))
}

// IsComplete reports whether the covered range equals [0, TotalSize).
func (p *PendingMessage) IsComplete() bool {
	return p.coverage.coversFull(int(p.TotalSize))
}

// byteRanges tracks a union of disjoint, merged [start, end) byte ranges.
type byteRanges struct {
	ranges [][2]int
}

func (b *byteRanges) add(start, end int) {
	if start >= end {
		return
	}
	b.ranges = append(b.ranges, [2]int{start, end})
	sort.Slice(b.ranges, func(i, j int) bool { return b.ranges[i][0] < b.ranges[j][0] })

	merged := b.ranges[:0]
	for _, r := range b.ranges {
		if len(merged) > 0 && r[0] <= merged[len(merged)-1][1] {
			if r[1] > merged[len(merged)-1][1] {
				merged[len(merged)-1][1] = r[1]
			}
			continue
		}
		merged = append(merged, r)
	}
	b.ranges = merged
}

func (b *byteRanges) coversFull(total int) bool {
	if total == 0 {
		return true
	}
	return len(b.ranges) == 1 && b.ranges[0][0] == 0 && b.ranges[0][1] == total
}
