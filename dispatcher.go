// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DispatcherStats contains [*Dispatcher] counters.
type DispatcherStats struct {
	// FlowsCreated counts the flows created so far.
	FlowsCreated int64

	// FlowsEnded counts the flows that have ended.
	FlowsEnded int64

	// Dropped counts the datagrams dropped because the
	// inbound channel of their flow was full.
	Dropped int64

	// Ignored counts the datagrams the destination sent
	// to the listening socket.
	Ignored int64
}

// Dispatcher owns the listening socket and multiplexes the datagrams it
// receives over per-peer flows.
//
// Construct using [NewDispatcher].
type Dispatcher struct {
	// Listener creates the upstream socket of each flow.
	//
	// Set by [NewDispatcher] to a [*net.ListenConfig].
	Listener PacketListener

	// Table contains the running flows.
	//
	// Set by [NewDispatcher] to an empty [*FlowTable].
	Table *FlowTable

	conn            net.PacketConn
	destination     netip.AddrPort
	idleTimeout     time.Duration
	channelCapacity int
	request         transformFunc
	reply           transformFunc
	logger          *slog.Logger
	outbound        chan OutboundPacket
	wg              sync.WaitGroup

	flowsCreated atomic.Int64
	flowsEnded   atomic.Int64
	dropped      atomic.Int64
	ignored      atomic.Int64
}

// NewDispatcher creates a new [*Dispatcher] serving conn.
//
// The config must contain a valid DestinationAddr (see [*Config.Resolve]),
// a positive IdleTimeout, and a positive ChannelCapacity. A nil logger
// discards all log records.
func NewDispatcher(conn net.PacketConn, config *Config, logger *slog.Logger) (*Dispatcher, error) {
	if !config.DestinationAddr.IsValid() {
		return nil, fmt.Errorf("%w: unresolved destination", ErrInvalidConfig)
	}
	if config.IdleTimeout <= 0 || config.ChannelCapacity <= 0 {
		return nil, fmt.Errorf("%w: idle timeout and channel capacity must be positive", ErrInvalidConfig)
	}
	return &Dispatcher{
		Listener:        &net.ListenConfig{},
		Table:           NewFlowTable(),
		conn:            conn,
		destination:     netip.AddrPortFrom(config.DestinationAddr.Addr().Unmap(), config.DestinationAddr.Port()),
		idleTimeout:     config.IdleTimeout,
		channelCapacity: config.ChannelCapacity,
		request:         config.Role.requestTransform(config.RawRequests),
		reply:           config.Role.replyTransform(),
		logger:          loggerOrDiscard(logger),
		outbound:        make(chan OutboundPacket, config.ChannelCapacity),
	}, nil
}

// LocalAddr returns the address of the listening socket.
func (d *Dispatcher) LocalAddr() net.Addr {
	return d.conn.LocalAddr()
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		FlowsCreated: d.flowsCreated.Load(),
		FlowsEnded:   d.flowsEnded.Load(),
		Dropped:      d.dropped.Load(),
		Ignored:      d.ignored.Load(),
	}
}

// Serve runs the dispatcher until ctx is done or the listening socket fails.
//
// Serve closes the listening socket and waits for all the flows to end
// before returning. It returns ctx.Err() on cancellation and the socket
// error otherwise. Call Serve at most once.
func (d *Dispatcher) Serve(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	received := make(chan datagram)

	// Closing the socket is what interrupts the blocking read.
	group.Go(func() error {
		<-gctx.Done()
		d.conn.Close()
		return nil
	})

	group.Go(func() error {
		if err := readDatagrams(d.conn, received, gctx.Done()); err != nil && gctx.Err() == nil {
			return fmt.Errorf("reading from listening socket: %w", err)
		}
		return gctx.Err()
	})

	group.Go(func() error {
		return d.loop(gctx, received)
	})

	err := group.Wait()
	d.wg.Wait()
	return err
}

// loop handles one event per iteration: either a datagram received on the
// listening socket or a packet that some flow wants to send to its peer.
func (d *Dispatcher) loop(ctx context.Context, received <-chan datagram) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case dg := <-received:
			d.dispatch(ctx, dg)

		case pkt := <-d.outbound:
			d.logger.Debug("forwarding to peer", slog.String("peer", pkt.To.String()), slog.Int("bytes", len(pkt.Payload)))
			if _, err := d.conn.WriteTo(pkt.Payload, net.UDPAddrFromAddrPort(pkt.To)); err != nil {
				return fmt.Errorf("writing to listening socket: %w", err)
			}
		}
	}
}

// dispatch routes a datagram received on the listening socket.
func (d *Dispatcher) dispatch(ctx context.Context, dg datagram) {
	if dg.from == d.destination {
		d.ignored.Add(1)
		d.logger.Info("ignoring datagram from destination", slog.Int("bytes", len(dg.payload)))
		return
	}

	found, delivered := d.Table.TrySend(dg.from, dg.payload)
	switch {
	case delivered:
		d.logger.Debug("received from peer", slog.String("peer", dg.from.String()), slog.Int("bytes", len(dg.payload)))

	case found:
		d.dropped.Add(1)
		d.logger.Debug("flow is saturated, dropping datagram", slog.String("peer", dg.from.String()), slog.Int("bytes", len(dg.payload)))

	default:
		d.logger.Info("new flow", slog.String("peer", dg.from.String()))
		if err := d.spawn(ctx, dg); err != nil {
			d.logger.Warn("cannot create flow", slog.String("peer", dg.from.String()), slog.Any("err", err))
		}
	}
}

// errFlowExists indicates that the table already had an entry for a peer.
var errFlowExists = errors.New("flow already exists")

// spawn creates the flow for a new peer, queues its first datagram, and
// starts the goroutine relaying it.
func (d *Dispatcher) spawn(ctx context.Context, dg datagram) error {
	f, err := d.newFlow(ctx, dg.from)
	if err != nil {
		return err
	}

	// The channel is empty and has nonzero capacity.
	f.inbound <- dg.payload

	// Only the dispatch loop inserts, so this happens only if the
	// Table is shared with some other code.
	if !d.Table.Insert(dg.from, f.inbound) {
		f.conn.Close()
		return errFlowExists
	}
	d.flowsCreated.Add(1)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		f.run(ctx)
		d.flowsEnded.Add(1)
	}()
	return nil
}

// newFlow binds the upstream socket and creates a flow for peer.
func (d *Dispatcher) newFlow(ctx context.Context, peer netip.AddrPort) (*flow, error) {
	network := "udp4"
	if d.destination.Addr().Is6() {
		network = "udp6"
	}
	conn, err := d.Listener.ListenPacket(ctx, network, ":0")
	if err != nil {
		return nil, fmt.Errorf("binding upstream socket: %w", err)
	}
	id := uuid.NewString()
	return &flow{
		id:          id,
		peer:        peer,
		destination: d.destination,
		conn:        conn,
		inbound:     make(chan []byte, d.channelCapacity),
		outbound:    d.outbound,
		table:       d.Table,
		idleTimeout: d.idleTimeout,
		request:     d.request,
		reply:       d.reply,
		logger:      d.logger.With(slog.String("peer", peer.String()), slog.String("flow", id)),
	}, nil
}
