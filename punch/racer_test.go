// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package punch

import (
	"context"
	"net"
	"testing"
	"time"
)

func mustListenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	return conn
}

func TestUDPRacerSimultaneousOpen(t *testing.T) {
	connA := mustListenUDP(t)
	defer connA.Close()
	connB := mustListenUDP(t)
	defer connB.Close()

	racer := NewUDPRacer(10*time.Millisecond, 2*time.Second)

	type outcome struct {
		addr net.Addr
		err  error
	}
	doneA := make(chan outcome, 1)
	doneB := make(chan outcome, 1)

	racer.PunchHole(context.Background(), connA, connB.LocalAddr(), []byte("hello-from-a"), func(addr net.Addr, err error) {
		doneA <- outcome{addr, err}
	})
	racer.PunchHole(context.Background(), connB, connA.LocalAddr(), []byte("hello-from-b"), func(addr net.Addr, err error) {
		doneB <- outcome{addr, err}
	})

	var resultA, resultB outcome
	select {
	case resultA = <-doneA:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for A's punch result")
	}
	select {
	case resultB = <-doneB:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for B's punch result")
	}

	if resultA.err != nil {
		t.Fatalf("A: unexpected error: %v", resultA.err)
	}
	if resultB.err != nil {
		t.Fatalf("B: unexpected error: %v", resultB.err)
	}

	if resultA.addr.String() != connB.LocalAddr().String() {
		t.Errorf("A resolved peer address %s, want %s", resultA.addr, connB.LocalAddr())
	}
	if resultB.addr.String() != connA.LocalAddr().String() {
		t.Errorf("B resolved peer address %s, want %s", resultB.addr, connA.LocalAddr())
	}
}

func TestUDPRacerTimesOutWithoutReply(t *testing.T) {
	conn := mustListenUDP(t)
	defer conn.Close()

	// Nothing listens at this address, so no reply will ever arrive.
	unreachable := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}

	racer := NewUDPRacer(5*time.Millisecond, 50*time.Millisecond)

	done := make(chan error, 1)
	racer.PunchHole(context.Background(), conn, unreachable, []byte("probe"), func(_ net.Addr, err error) {
		done <- err
	})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a timeout error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PunchHole never called onDone")
	}
}

func TestUDPRacerRespectsContextCancellation(t *testing.T) {
	conn := mustListenUDP(t)
	defer conn.Close()

	unreachable := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	racer := NewUDPRacer(5*time.Millisecond, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	racer.PunchHole(ctx, conn, unreachable, []byte("probe"), func(_ net.Addr, err error) {
		done <- err
	})

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a cancellation error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PunchHole never observed context cancellation")
	}
}
