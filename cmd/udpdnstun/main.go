// SPDX-License-Identifier: GPL-3.0-or-later

// Command udpdnstun tunnels UDP datagrams inside DNS messages.
//
// Usage:
//
//	udpdnstun [-client] [-config FILE] [-loglevel LEVEL] [-timeout SECONDS] [-bufsize N] LISTEN DESTINATION
//
// The server role (the default) receives DNS queries on LISTEN, forwards the
// decoded payloads to DESTINATION, and sends back the replies as DNS answers.
// The client role (-client) receives plain datagrams on LISTEN, sends them as
// DNS queries to DESTINATION, and decodes the DNS answers it gets back.
//
// With -config, settings are read from a YAML file first; flags and
// positional arguments given on the command line take precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bassosimone/udpdnstun"
	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

func main() {
	config, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "udpdnstun: %s\n", err)
		os.Exit(2)
	}

	level, _ := udpdnstun.ParseLogLevel(config.LogLevel)
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		NoColor: !term.IsTerminal(int(os.Stderr.Fd())),
		Level:   level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Error("fatal error", slog.Any("err", err))
		os.Exit(1)
	}
}

// run binds the listening socket and serves until ctx is done.
func run(ctx context.Context, config *udpdnstun.Config, logger *slog.Logger) error {
	if err := config.Resolve(ctx, net.DefaultResolver); err != nil {
		return err
	}

	lc := &net.ListenConfig{}
	conn, err := lc.ListenPacket(ctx, "udp", config.ListenAddr)
	if err != nil {
		return fmt.Errorf("opening listening socket: %w", err)
	}

	dispatcher, err := udpdnstun.NewDispatcher(conn, config, logger)
	if err != nil {
		conn.Close()
		return err
	}
	logger.Warn("listening",
		slog.String("address", conn.LocalAddr().String()),
		slog.String("destination", config.DestinationAddr.String()),
		slog.String("role", config.Role.String()),
	)

	err = dispatcher.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// parseConfig builds the [*udpdnstun.Config] from the command line.
func parseConfig(args []string, stderr io.Writer) (*udpdnstun.Config, error) {
	fs := flag.NewFlagSet("udpdnstun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "read settings from the given YAML `file`")
	client := fs.Bool("client", false, "run the client side of the tunnel")
	logLevel := fs.String("loglevel", udpdnstun.DefaultLogLevel, "log `level`: debug, info, warn, or error")
	timeout := fs.Int("timeout", int(udpdnstun.DefaultIdleTimeout/time.Second), "flow idle timeout in `seconds`")
	bufsize := fs.Int("bufsize", udpdnstun.DefaultChannelCapacity, "capacity of the flow channels")
	rawRequests := fs.Bool("raw-requests", false, "forward requests to the destination without transcoding")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: udpdnstun [flags] LISTEN DESTINATION\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	config := udpdnstun.NewConfig()
	if *configFile != "" {
		var err error
		if config, err = udpdnstun.LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "client":
			config.Role = udpdnstun.RoleServer
			if *client {
				config.Role = udpdnstun.RoleClient
			}
		case "loglevel":
			config.LogLevel = *logLevel
		case "timeout":
			config.TimeoutSeconds = *timeout
			config.IdleTimeout = time.Duration(*timeout) * time.Second
		case "bufsize":
			config.ChannelCapacity = *bufsize
		case "raw-requests":
			config.RawRequests = *rawRequests
		}
	})

	switch fs.NArg() {
	case 0:
	case 2:
		config.ListenAddr = fs.Arg(0)
		config.Destination = fs.Arg(1)
	default:
		fs.Usage()
		return nil, fmt.Errorf("expected LISTEN and DESTINATION, got %d arguments", fs.NArg())
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
