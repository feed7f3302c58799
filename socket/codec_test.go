// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"bytes"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	var acks AckSet
	acks.TryAdd(0)
	acks.TryAdd(1)

	buf, countOffset := EncodePacketPrefix(nil, &acks)

	messages := []*OutMessage{
		{Type: TypeReliable, SequenceNumber: 2, Payload: []byte("alpha")},
		{Type: TypeUnreliable, SequenceNumber: 5, Payload: []byte("beta")},
		{Type: TypeKeepAlive},
	}
	count := 0
	for _, m := range messages {
		out, wrote := m.EncodeHeaderAndPayload(buf, PacketSize)
		if !wrote {
			t.Fatalf("failed to encode message %+v", m)
		}
		buf = out
		count++
	}
	PatchMessageCount(buf, countOffset, uint16(count))

	decodedAcks, parts, ok := DecodePacket(buf)
	if !ok {
		t.Fatal("DecodePacket failed on a packet this test just built")
	}
	if decodedAcks.Base() != acks.Base() {
		t.Fatalf("decoded ack base = %d, want %d", decodedAcks.Base(), acks.Base())
	}
	if len(parts) != len(messages) {
		t.Fatalf("decoded %d parts, want %d", len(parts), len(messages))
	}
	if parts[0].SN != 2 || !bytes.Equal(parts[0].Payload, []byte("alpha")) {
		t.Fatalf("part 0 mismatch: %+v", parts[0])
	}
	if parts[1].SN != 5 || !bytes.Equal(parts[1].Payload, []byte("beta")) {
		t.Fatalf("part 1 mismatch: %+v", parts[1])
	}
	if parts[2].Type != TypeKeepAlive || len(parts[2].Payload) != 0 {
		t.Fatalf("part 2 mismatch: %+v", parts[2])
	}
}

func TestDecodePacketRejectsTruncatedAckSet(t *testing.T) {
	_, _, ok := DecodePacket(make([]byte, 3))
	if ok {
		t.Fatal("expected failure decoding a packet shorter than the ack set")
	}
}

func TestDecodePacketRejectsTruncatedMessageCount(t *testing.T) {
	buf := make([]byte, ackSetWireSize+1)
	_, _, ok := DecodePacket(buf)
	if ok {
		t.Fatal("expected failure decoding a packet with a truncated count field")
	}
}

func TestDecodePacketRejectsTruncatedPayload(t *testing.T) {
	var acks AckSet
	buf, offset := EncodePacketPrefix(nil, &acks)
	buf = encodeMessagePartHeader(buf, TypeReliable, true, 1, 10, 0, 10)
	PatchMessageCount(buf, offset, 1)
	// Declared a 10-byte chunk but never appended the bytes.
	_, _, ok := DecodePacket(buf)
	if ok {
		t.Fatal("expected failure decoding a part whose declared chunk length exceeds the buffer")
	}
}
