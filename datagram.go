// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import (
	"bytes"
	"net"
	"net/netip"
)

const (
	// maxDatagramSize is large enough for any UDP datagram.
	maxDatagramSize = 65535

	// maxUDPPayload is the largest payload we can send in a single
	// IPv4 UDP datagram.
	maxUDPPayload = 65507
)

// datagram is a datagram read from a socket.
type datagram struct {
	from    netip.AddrPort
	payload []byte
}

// OutboundPacket is a datagram that a flow asks the [*Dispatcher] to
// write to a peer using the listening socket.
type OutboundPacket struct {
	// To is the peer address.
	To netip.AddrPort

	// Payload is the datagram payload.
	Payload []byte
}

// readDatagrams reads from conn and posts each datagram on out until
// either a read fails or done is closed.
//
// It returns the read error, or nil when done was closed.
func readDatagrams(conn net.PacketConn, out chan<- datagram, done <-chan struct{}) error {
	buf := make([]byte, maxDatagramSize)
	for {
		count, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		from, ok := addrPortFromNetAddr(addr)
		if !ok {
			continue
		}
		select {
		case out <- datagram{from: from, payload: bytes.Clone(buf[:count])}:
		case <-done:
			return nil
		}
	}
}
