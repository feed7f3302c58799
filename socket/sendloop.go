// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"fmt"
	"time"

	"github.com/coldharbor/duplex/lib/netutil"
)

// startSending drives one pass of the send loop. Only the pending state
// permits initiation; a send already in flight, or a pacer delay
// already armed, makes this a no-op — the loop re-enters on its own once
// that completes.
func (e *Endpoint) startSending() {
	if e.state != stateActive || e.sendState != sendPending {
		return
	}

	buf, countOffset := EncodePacketPrefix(nil, &e.localAcks)
	packed := e.packOutgoing(&buf)

	if packed == 0 && !e.pendingAcksToSend {
		if e.flushCB != nil {
			cb := e.flushCB
			e.flushCB = nil
			cb()
			if e.token.isDestroyed() || e.state == stateClosed {
				return
			}
		}
		e.armKeepalive()
		return
	}

	PatchMessageCount(buf, countOffset, uint16(packed))
	e.pendingAcksToSend = false
	e.sendState = sendSending
	e.lastSendSize = len(buf)

	_, err := e.conn.WriteTo(buf, e.remoteAddr)
	if err != nil {
		if netutil.IsExpectedCloseError(err) {
			// operation_aborted-shaped: swallowed, endpoint is already
			// on its way to closed.
			return
		}
		e.fatal(fmt.Errorf("send: %w", err))
		return
	}

	e.sendState = sendWaiting
	e.armPacer(e.lastSendSize)
}

// packOutgoing packs as many queued messages as fit into *buf, in
// round-robin order, pruning any reliable message the peer has already
// acked along the way. It returns the number of message parts written.
func (e *Endpoint) packOutgoing(buf *[]byte) int {
	cursor := e.queue.Cycle()
	packed := 0

	for !cursor.Done() {
		msg := cursor.Current()
		if msg.ackTracked() && e.peerAcked.IsIn(msg.SequenceNumber) {
			cursor.Erase()
			continue
		}

		out, wrote := msg.EncodeHeaderAndPayload(*buf, PacketSize)
		if !wrote {
			break
		}
		*buf = out
		packed++

		if !msg.fullyFragmented() {
			break
		}
		if msg.ResendUntilAcked {
			cursor.Advance()
		} else {
			cursor.Erase()
		}
	}

	cursor.Stop()
	return packed
}

// armKeepalive schedules a single keepalive message once the send loop
// has found nothing to do.
func (e *Endpoint) armKeepalive() {
	e.keepaliveTimer = e.clock.AfterFunc(e.cfg.KeepAlivePeriod, func() {
		e.submit(func() {
			if e.token.isDestroyed() || e.state != stateActive {
				return
			}
			e.queue.Insert(&OutMessage{Type: TypeKeepAlive})
			e.startSending()
		})
	})
}

// armPacer delays the next send in proportion to the size of the packet
// just sent, modeling a conservative bitrate floor. Same-host traffic
// skips the delay entirely.
func (e *Endpoint) armPacer(sentBytes int) {
	delay := time.Duration(sentBytes) * e.cfg.PacerMicrosPerByte
	if netutil.IsLoopback(e.remoteAddr) {
		delay = 0
	}
	e.pacerTimer = e.clock.AfterFunc(delay, func() {
		e.submit(func() {
			if e.token.isDestroyed() || e.state != stateActive {
				return
			}
			e.sendState = sendPending
			e.startSending()
		})
	})
}
