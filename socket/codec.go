// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import "encoding/binary"

// PacketSize is the maximum size of a single outbound datagram. No packet
// emitted by an Endpoint ever exceeds this.
const PacketSize = 1452

// InMessagePart is one decoded message part from an inbound packet.
type InMessagePart struct {
	Type       MessageType
	Reliable   bool
	SN         uint32
	TotalSize  uint16
	ChunkStart uint16
	ChunkLen   uint16
	Payload    []byte
}

// GetCompleteMessage returns the full payload if this single part already
// constitutes the entire message (chunk_start == 0 and chunk_len ==
// total_size).
func (p *InMessagePart) GetCompleteMessage() ([]byte, bool) {
	if p.ChunkStart == 0 && p.ChunkLen == p.TotalSize {
		return p.Payload, true
	}
	return nil, false
}

func encodeMessagePartHeader(dst []byte, t MessageType, reliable bool, sn uint32, totalSize, chunkStart, chunkLen uint16) []byte {
	var buf [messagePartHeaderSize]byte
	buf[0] = byte(t)
	if reliable {
		buf[1] = 1
	}
	binary.BigEndian.PutUint32(buf[2:6], sn)
	binary.BigEndian.PutUint16(buf[6:8], totalSize)
	binary.BigEndian.PutUint16(buf[8:10], chunkStart)
	binary.BigEndian.PutUint16(buf[10:12], chunkLen)
	return append(dst, buf[:]...)
}

func decodeMessagePart(src []byte) (InMessagePart, []byte, bool) {
	if len(src) < messagePartHeaderSize {
		return InMessagePart{}, src, false
	}
	part := InMessagePart{
		Type:       MessageType(src[0]),
		Reliable:   src[1] != 0,
		SN:         binary.BigEndian.Uint32(src[2:6]),
		TotalSize:  binary.BigEndian.Uint16(src[6:8]),
		ChunkStart: binary.BigEndian.Uint16(src[8:10]),
		ChunkLen:   binary.BigEndian.Uint16(src[10:12]),
	}
	rest := src[messagePartHeaderSize:]
	if len(rest) < int(part.ChunkLen) {
		return InMessagePart{}, src, false
	}
	part.Payload = rest[:part.ChunkLen]
	return part, rest[part.ChunkLen:], true
}

// EncodePacketPrefix appends the ack set and a placeholder message count
// to dst, returning the extended buffer and the offset of the 2-byte
// count placeholder so the caller can patch it once the actual count of
// packed parts is known.
func EncodePacketPrefix(dst []byte, acks *AckSet) (out []byte, countOffset int) {
	out = acks.EncodeTo(dst)
	countOffset = len(out)
	out = append(out, 0, 0)
	return out, countOffset
}

// PatchMessageCount writes count into the 2-byte placeholder at offset,
// previously returned by EncodePacketPrefix.
func PatchMessageCount(buf []byte, offset int, count uint16) {
	binary.BigEndian.PutUint16(buf[offset:offset+2], count)
}

// DecodePacket decodes a full packet into its ack set and message parts.
// It fails with ErrParseFailure-shaped false on any malformed input.
func DecodePacket(src []byte) (AckSet, []InMessagePart, bool) {
	acks, rest, ok := DecodeAckSet(src)
	if !ok {
		return AckSet{}, nil, false
	}
	if len(rest) < 2 {
		return AckSet{}, nil, false
	}
	count := binary.BigEndian.Uint16(rest[0:2])
	rest = rest[2:]

	parts := make([]InMessagePart, 0, count)
	for i := uint16(0); i < count; i++ {
		var part InMessagePart
		part, rest, ok = decodeMessagePart(rest)
		if !ok {
			return AckSet{}, nil, false
		}
		parts = append(parts, part)
	}
	return acks, parts, true
}
