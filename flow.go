// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// flow relays the datagrams of a single peer to and from the destination.
//
// A flow is owned by the goroutine running [*flow.run]. Other goroutines
// talk to it only through its inbound channel, via the [*FlowTable].
type flow struct {
	// id identifies the flow in logs.
	id string

	// peer is the address of the peer on the listening socket.
	peer netip.AddrPort

	// destination is the tunnel destination.
	destination netip.AddrPort

	// conn is the ephemeral upstream socket owned by this flow.
	conn net.PacketConn

	// inbound receives the datagrams sent by peer.
	inbound chan []byte

	// outbound is the channel shared with the [*Dispatcher].
	outbound chan<- OutboundPacket

	// table is the table containing this flow.
	table *FlowTable

	// idleTimeout is the maximum silence before the flow ends.
	idleTimeout time.Duration

	// request transforms datagrams from peer to destination.
	request transformFunc

	// reply transforms datagrams from destination to peer.
	reply transformFunc

	// logger is the flow logger.
	logger *slog.Logger
}

// run relays datagrams until the flow is idle for idleTimeout, its upstream
// socket fails, or ctx is done. Before returning, run removes the flow from
// the table, closes the inbound channel, and closes the upstream socket.
func (f *flow) run(ctx context.Context) {
	done := make(chan struct{})
	replies := make(chan datagram)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readDatagrams(f.conn, replies, done)
	}()

	defer func() {
		// Remove before closing because the dispatcher sends with the
		// table lock held and must never see a closed channel.
		f.table.Remove(f.peer)
		close(f.inbound)
		close(done)
		f.conn.Close()
	}()

	f.logger.Info("flow started", slog.String("upstream", f.conn.LocalAddr().String()))

	timer := time.NewTimer(f.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Debug("flow stopped", slog.Any("err", ctx.Err()))
			return

		case <-timer.C:
			f.logger.Info("flow idle timeout")
			return

		case err := <-readErr:
			f.logger.Warn("flow upstream read failed", slog.Any("err", err))
			return

		case dg := <-replies:
			if f.handleReply(dg) {
				timer.Reset(f.idleTimeout)
			}

		case payload := <-f.inbound:
			if f.handleRequest(payload) {
				timer.Reset(f.idleTimeout)
			}
		}
	}
}

// handleRequest sends a datagram received from the peer to the destination
// and returns whether the flow has seen traffic.
func (f *flow) handleRequest(payload []byte) bool {
	data, err := f.request(payload)
	if err != nil {
		f.logger.Info("dropping malformed request", slog.Int("bytes", len(payload)), slog.Any("err", err))
		return false
	}
	f.logger.Debug("forwarding to destination", slog.Int("bytes", len(data)))
	if _, err := f.conn.WriteTo(data, net.UDPAddrFromAddrPort(f.destination)); err != nil {
		f.logger.Warn("cannot write to destination", slog.Any("err", err))
		return false
	}
	return true
}

// handleReply sends a datagram received on the upstream socket back to the
// peer and returns whether the flow has seen traffic.
func (f *flow) handleReply(dg datagram) bool {
	if dg.from != f.destination {
		f.logger.Debug("ignoring datagram from unexpected source", slog.String("source", dg.from.String()))
		return false
	}
	data, err := f.reply(dg.payload)
	if err != nil {
		f.logger.Info("dropping malformed reply", slog.Int("bytes", len(dg.payload)), slog.Any("err", err))
		return false
	}
	if len(data) > maxUDPPayload {
		// Encoding grows the reply, which may no longer fit a datagram.
		f.logger.Info("dropping oversized reply", slog.Int("bytes", len(data)))
		return false
	}
	select {
	case f.outbound <- OutboundPacket{To: f.peer, Payload: data}:
		f.logger.Debug("queued reply for peer", slog.Int("bytes", len(data)))
	default:
		f.logger.Debug("outbound channel full, dropping reply", slog.Int("bytes", len(data)))
	}
	return true
}
