// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import "testing"

func snOf(q *TransmitQueue, i int) uint32 { return q.messages[i].SequenceNumber }

func TestQueueCycleVisitsAllInOrder(t *testing.T) {
	var q TransmitQueue
	q.Insert(&OutMessage{SequenceNumber: 1})
	q.Insert(&OutMessage{SequenceNumber: 2})
	q.Insert(&OutMessage{SequenceNumber: 3})

	var seen []uint32
	c := q.Cycle()
	for !c.Done() {
		seen = append(seen, c.Current().SequenceNumber)
		c.Advance()
	}
	c.Stop()

	want := []uint32{1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestQueueCycleResumesAfterStop(t *testing.T) {
	var q TransmitQueue
	q.Insert(&OutMessage{SequenceNumber: 1})
	q.Insert(&OutMessage{SequenceNumber: 2})
	q.Insert(&OutMessage{SequenceNumber: 3})

	c := q.Cycle()
	if c.Current().SequenceNumber != 1 {
		t.Fatal("first pass should start at the head")
	}
	c.Advance()
	c.Stop() // stop after visiting only sn 1

	c2 := q.Cycle()
	if c2.Current().SequenceNumber != 2 {
		t.Fatalf("resumed cycle should start at sn 2, got %d", c2.Current().SequenceNumber)
	}
}

func TestQueueCycleEraseRemovesAndContinues(t *testing.T) {
	var q TransmitQueue
	q.Insert(&OutMessage{SequenceNumber: 1})
	q.Insert(&OutMessage{SequenceNumber: 2})
	q.Insert(&OutMessage{SequenceNumber: 3})

	c := q.Cycle()
	var seen []uint32
	for !c.Done() {
		sn := c.Current().SequenceNumber
		seen = append(seen, sn)
		if sn == 2 {
			c.Erase()
		} else {
			c.Advance()
		}
	}
	c.Stop()

	if q.Len() != 2 {
		t.Fatalf("queue length = %d, want 2 after erasing sn 2", q.Len())
	}
	if snOf(&q, 0) != 1 || snOf(&q, 1) != 3 {
		t.Fatalf("remaining messages = [%d %d], want [1 3]", snOf(&q, 0), snOf(&q, 1))
	}
	want := []uint32{1, 2, 3}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestQueueFairnessNoStarvation(t *testing.T) {
	var q TransmitQueue
	q.Insert(&OutMessage{SequenceNumber: 1})
	q.Insert(&OutMessage{SequenceNumber: 2})

	// Pass 1: visit only sn 1, then stop mid-cycle.
	c := q.Cycle()
	if c.Current().SequenceNumber != 1 {
		t.Fatal("pass 1 should start at sn 1")
	}
	c.Advance()
	c.Stop()

	// A high-volume inserter adds more messages after sn 2.
	q.Insert(&OutMessage{SequenceNumber: 4})
	q.Insert(&OutMessage{SequenceNumber: 5})

	// Pass 2 must visit sn 2 first, not restart at sn 1, or sn 2 would
	// starve behind an endless stream of new inserts.
	c2 := q.Cycle()
	if got := c2.Current().SequenceNumber; got != 2 {
		t.Fatalf("pass 2 should resume at sn 2 (fairness), got %d", got)
	}
}
