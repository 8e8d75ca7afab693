// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
)

// Resolver is typically [*net.Resolver].
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// PacketListener is typically [*net.ListenConfig].
type PacketListener interface {
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// errNoAddress indicates that a lookup succeeded without returning addresses.
var errNoAddress = errors.New("no address found")

// resolveAddrPort resolves a host:port endpoint into a [netip.AddrPort].
//
// When the host is an IP address, no lookup is performed. Otherwise the
// first address returned by resolver is used.
func resolveAddrPort(ctx context.Context, resolver Resolver, endpoint string) (netip.AddrPort, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return netip.AddrPort{}, err
	}
	portnum, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), uint16(portnum)), nil
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if len(addrs) <= 0 {
		return netip.AddrPort{}, errNoAddress
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), uint16(portnum)), nil
}

// addrPortFromNetAddr converts a [net.Addr] returned by ReadFrom into
// the canonical [netip.AddrPort] we use as a flow key.
func addrPortFromNetAddr(addr net.Addr) (netip.AddrPort, bool) {
	switch v := addr.(type) {
	case *net.UDPAddr:
		ap := v.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), ap.IsValid()
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}, false
		}
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
	}
}
