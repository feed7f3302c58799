// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import "net"

// onDatagram processes one inbound datagram already confirmed to have
// arrived while the endpoint is active.
func (e *Endpoint) onDatagram(data []byte, from net.Addr) {
	if e.token.isDestroyed() || e.state != stateActive {
		return
	}
	e.stopReceiveTimeout()

	if !addrEqual(from, e.remoteAddr) {
		e.armReceiveTimeout()
		return
	}

	acks, parts, ok := DecodePacket(data)
	if !ok {
		e.fatal(ErrParseFailure)
		return
	}
	// Replacement, not union: a reordered packet can transiently regress
	// what we believe the peer has acked. Kept this way deliberately —
	// see DESIGN.md.
	e.peerAcked = acks

	for _, part := range parts {
		e.dispatch(part)
		if e.token.isDestroyed() || e.state == stateClosed {
			return
		}
		e.startSending()
		if e.token.isDestroyed() || e.state == stateClosed {
			return
		}
	}

	e.armReceiveTimeout()
}

func (e *Endpoint) armReceiveTimeout() {
	e.receiveTimeoutTimer = e.clock.AfterFunc(e.cfg.ReceiveTimeoutPeriod, func() {
		e.submit(func() {
			if e.token.isDestroyed() || e.state != stateActive {
				return
			}
			e.fatal(ErrTimedOut)
		})
	})
}

func (e *Endpoint) stopReceiveTimeout() {
	if e.receiveTimeoutTimer != nil {
		e.receiveTimeoutTimer.Stop()
	}
}

func addrEqual(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	ua, aOK := a.(*net.UDPAddr)
	ub, bOK := b.(*net.UDPAddr)
	if aOK && bOK {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.String() == b.String()
}

// dispatch routes one decoded message part to its stream handler.
func (e *Endpoint) dispatch(part InMessagePart) {
	switch part.Type {
	case TypeSync:
		e.dispatchSync(part)
	case TypeKeepAlive:
		// no-op: its only purpose was to arrive and refresh liveness.
	case TypeClose:
		e.closeLocked(ErrConnectionReset)
	case TypeReliable:
		e.dispatchReliable(part)
	case TypeUnreliable:
		e.dispatchUnreliable(part)
	}
}

func (e *Endpoint) dispatchSync(part InMessagePart) {
	e.pendingAcksToSend = true
	if e.syncSeen {
		return
	}
	e.syncSeen = true
	e.lastDeliveredReliableSN = part.SN
	e.lastDeliveredUnreliableSN = part.SN
	e.localAcks.TryAdd(part.SN)
}

func (e *Endpoint) dispatchReliable(part InMessagePart) {
	e.pendingAcksToSend = true
	if !e.syncSeen {
		return
	}
	if !e.localAcks.CanAdd(part.SN) {
		return
	}

	if part.SN == e.lastDeliveredReliableSN+1 {
		if payload, complete := part.GetCompleteMessage(); complete {
			e.deliverReliable(part.SN, payload)
			e.replayPending()
			return
		}
	}

	pending := e.pendingReliable[part.SN]
	if pending == nil {
		if e.cfg.MaxPendingReliableMessages > 0 && len(e.pendingReliable) >= e.cfg.MaxPendingReliableMessages {
			return
		}
		pending = newPendingMessage(part.SN, part.TotalSize)
		e.pendingReliable[part.SN] = pending
	}
	pending.Update(part.ChunkStart, part.Payload)
	e.replayPending()
}

// deliverReliable implements the reliable delivery protocol: the
// callback is moved out before invocation; if none is registered, the
// message is not delivered and the SN is not advanced — it is held in
// the pending map so a later-registered callback can pick it up.
func (e *Endpoint) deliverReliable(sn uint32, payload []byte) {
	cb := e.reliableCB
	if cb == nil {
		if _, exists := e.pendingReliable[sn]; !exists {
			pm := newPendingMessage(sn, uint16(len(payload)))
			pm.Update(0, payload)
			e.pendingReliable[sn] = pm
		}
		return
	}
	e.reliableCB = nil
	delete(e.pendingReliable, sn)
	e.lastDeliveredReliableSN = sn
	e.localAcks.TryAdd(sn)
	cb(payload, nil)
}

// replayPending scans pending reliable messages in SN order, delivering
// every contiguous complete run starting at last_delivered+1. It stops
// at the first gap, the first incomplete message, or as soon as no
// receive callback is registered to hand a complete message to.
func (e *Endpoint) replayPending() {
	for {
		sn := e.lastDeliveredReliableSN + 1
		pm, ok := e.pendingReliable[sn]
		if !ok || !pm.IsComplete() || e.reliableCB == nil {
			return
		}
		e.deliverReliable(sn, pm.Payload)
		if e.token.isDestroyed() || e.state == stateClosed {
			return
		}
	}
}

func (e *Endpoint) dispatchUnreliable(part InMessagePart) {
	// With no callback registered there is no one to hand this message
	// to; leave the last-delivered marker and any pending reassembly
	// untouched so a callback registered later still sees whatever
	// arrives next as new, rather than finding it already behind a
	// watermark this message advanced while unobserved.
	if e.unreliableCB == nil {
		return
	}
	if !e.syncSeen {
		return
	}
	if part.SN <= e.lastDeliveredUnreliableSN {
		return
	}

	if payload, complete := part.GetCompleteMessage(); complete {
		e.deliverUnreliable(part.SN, payload)
		return
	}

	switch {
	case e.pendingUnreliable == nil || e.pendingUnreliable.SequenceNumber < part.SN:
		e.pendingUnreliable = newPendingMessage(part.SN, part.TotalSize)
	case e.pendingUnreliable.SequenceNumber > part.SN:
		return
	}

	e.pendingUnreliable.Update(part.ChunkStart, part.Payload)
	if e.pendingUnreliable.IsComplete() {
		e.deliverUnreliable(e.pendingUnreliable.SequenceNumber, e.pendingUnreliable.Payload)
	}
}

// deliverUnreliable moves out and invokes the registered callback
// before advancing the last-delivered marker or clearing the pending
// reassembly, so a callback that synchronously closes the endpoint
// (token.isDestroyed) never causes those side effects to run.
func (e *Endpoint) deliverUnreliable(sn uint32, payload []byte) {
	cb := e.unreliableCB
	e.unreliableCB = nil
	cb(payload, nil)
	if e.token.isDestroyed() {
		return
	}
	e.lastDeliveredUnreliableSN = sn
	e.pendingUnreliable = nil
}
