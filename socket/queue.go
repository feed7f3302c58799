// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

// TransmitQueue is an ordered, cursor-iterable collection of OutMessages.
// The cursor used by Cycle persists across calls: a pass that stops
// mid-cycle resumes immediately after the last-visited element next
// time, so no message is starved by a high-volume neighbor further down
// the queue (round-robin fairness). Mutation during a pass is allowed
// only through the QueueCursor returned by Cycle.
type TransmitQueue struct {
	messages []*OutMessage
	cursor   int
}

// Insert appends msg to the logical tail of the queue.
func (q *TransmitQueue) Insert(msg *OutMessage) {
	q.messages = append(q.messages, msg)
}

// Len reports the number of messages currently queued.
func (q *TransmitQueue) Len() int { return len(q.messages) }

// Cycle begins one round-robin traversal pass, starting at the position
// the previous pass left off at (the head, the first time). The caller
// must call Stop on the returned cursor when it is done with the pass —
// whether that's because Done became true or because it chose to halt
// early — to persist the resume position for the next Cycle.
func (q *TransmitQueue) Cycle() *QueueCursor {
	total := len(q.messages)
	if total == 0 {
		return &QueueCursor{q: q}
	}
	if q.cursor >= total {
		q.cursor = 0
	}
	return &QueueCursor{q: q, pos: q.cursor, total: total}
}

// QueueCursor drives one round-robin pass over a TransmitQueue.
type QueueCursor struct {
	q       *TransmitQueue
	pos     int
	total   int
	visited int
}

// Done reports whether every message present at the start of this pass
// has now been visited (via Advance or Erase).
func (c *QueueCursor) Done() bool {
	return c.visited >= c.total
}

// Current returns the message at the cursor's current position, or nil
// if the queue is empty.
func (c *QueueCursor) Current() *OutMessage {
	if len(c.q.messages) == 0 {
		return nil
	}
	return c.q.messages[c.pos]
}

// Advance moves past the current element without removing it, continuing
// the pass.
func (c *QueueCursor) Advance() {
	c.visited++
	if n := len(c.q.messages); n > 0 {
		c.pos = (c.pos + 1) % n
	}
}

// Erase removes the current element from the queue and continues the
// pass. The element following it shifts into the current position, so
// the cursor does not advance.
func (c *QueueCursor) Erase() {
	c.visited++
	msgs := c.q.messages
	copy(msgs[c.pos:], msgs[c.pos+1:])
	c.q.messages = msgs[:len(msgs)-1]
	if c.pos >= len(c.q.messages) {
		c.pos = 0
	}
}

// Stop ends the pass, persisting the current position so the next Cycle
// resumes from here.
func (c *QueueCursor) Stop() {
	c.q.cursor = c.pos
}
