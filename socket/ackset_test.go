// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import "testing"

func TestAckSetTryAddSlidesBase(t *testing.T) {
	var a AckSet
	if a.IsIn(0) {
		t.Fatal("IsIn(0) should be false on a fresh AckSet: nothing has been received yet")
	}
	if !a.CanAdd(0) {
		t.Fatal("CanAdd(0) should be true on a fresh AckSet")
	}
	if !a.TryAdd(0) {
		t.Fatal("TryAdd(0) should succeed from the zero value")
	}
	if a.Base() != 1 {
		t.Fatalf("Base() = %d, want 1 (sn 0 known received, sn 1 not yet)", a.Base())
	}

	if !a.TryAdd(1) {
		t.Fatal("TryAdd(1) should succeed")
	}
	if a.Base() != 2 {
		t.Fatalf("Base() = %d, want 2 after contiguous add", a.Base())
	}
}

func TestAckSetTryAddOutOfOrderThenSlides(t *testing.T) {
	var a AckSet
	a.TryAdd(0)

	if !a.TryAdd(2) {
		t.Fatal("TryAdd(2) should be accepted into the window even though sn 1 is missing")
	}
	if a.Base() != 1 {
		t.Fatalf("Base() = %d, want 1 (gap at sn 1 should block sliding)", a.Base())
	}
	if !a.IsIn(2) {
		t.Fatal("IsIn(2) should be true once recorded")
	}

	if !a.TryAdd(1) {
		t.Fatal("TryAdd(1) should fill the gap")
	}
	if a.Base() != 3 {
		t.Fatalf("Base() = %d, want 3 after the gap fills and the run slides through", a.Base())
	}
}

func TestAckSetCanAddRejectsDuplicateAndOld(t *testing.T) {
	var a AckSet
	a.TryAdd(0)
	a.TryAdd(1)

	if a.CanAdd(0) {
		t.Fatal("CanAdd(0) should be false: already covered by base")
	}
	if a.CanAdd(1) {
		t.Fatal("CanAdd(1) should be false: already covered by base")
	}
	if !a.CanAdd(2) {
		t.Fatal("CanAdd(2) should be true: next in sequence")
	}

	a.TryAdd(2)
	if a.CanAdd(2) {
		t.Fatal("CanAdd(2) should be false once already recorded")
	}
}

func TestAckSetOutOfWindowRejected(t *testing.T) {
	var a AckSet
	if !a.CanAdd(ackSetWindow - 1) {
		t.Fatal("CanAdd at the last in-window sn should still be true")
	}
	if a.TryAdd(ackSetWindow) {
		t.Fatal("TryAdd one past the window should fail")
	}
}

func TestAckSetEncodeDecodeRoundTrip(t *testing.T) {
	var a AckSet
	a.TryAdd(0)
	a.TryAdd(5)
	a.TryAdd(7)

	buf := a.EncodeTo(nil)
	if len(buf) != ackSetWireSize {
		t.Fatalf("encoded length = %d, want %d", len(buf), ackSetWireSize)
	}

	decoded, rest, ok := DecodeAckSet(buf)
	if !ok {
		t.Fatal("DecodeAckSet failed on valid input")
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected leftover bytes: %d", len(rest))
	}
	if decoded.Base() != a.Base() || decoded.bits != a.bits {
		t.Fatalf("round trip mismatch: got base=%d bits=%b, want base=%d bits=%b",
			decoded.Base(), decoded.bits, a.Base(), a.bits)
	}
	if !decoded.IsIn(5) || !decoded.IsIn(7) || decoded.IsIn(6) {
		t.Fatal("decoded set does not preserve membership")
	}
}

func TestDecodeAckSetTooShort(t *testing.T) {
	_, _, ok := DecodeAckSet(make([]byte, ackSetWireSize-1))
	if ok {
		t.Fatal("DecodeAckSet should fail on truncated input")
	}
}
