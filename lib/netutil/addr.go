// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import "net"

// RewriteUnspecified returns addr with an unspecified host (0.0.0.0 or ::)
// replaced by the loopback address of the matching family, leaving the
// port untouched. A caller with no better address for a peer than "any
// host, this port" — e.g. one learned from a local test harness — should
// rewrite it before handing it to a dialer.
func RewriteUnspecified(addr *net.UDPAddr) *net.UDPAddr {
	if addr == nil || !addr.IP.IsUnspecified() {
		return addr
	}
	out := *addr
	if addr.IP.To4() != nil {
		out.IP = net.IPv4(127, 0, 0, 1)
	} else {
		out.IP = net.IPv6loopback
	}
	return &out
}

// IsLoopback reports whether addr's host is a loopback address. Used to
// disable the congestion pacer for same-host traffic.
func IsLoopback(addr net.Addr) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || udpAddr == nil {
		return false
	}
	return udpAddr.IP.IsLoopback()
}
