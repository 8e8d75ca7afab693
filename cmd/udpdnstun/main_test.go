// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bassosimone/udpdnstun"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Run("positional arguments and defaults", func(t *testing.T) {
		config, err := parseConfig([]string{"127.0.0.1:5300", "127.0.0.1:53"}, &bytes.Buffer{})
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:5300", config.ListenAddr)
		require.Equal(t, "127.0.0.1:53", config.Destination)
		require.Equal(t, udpdnstun.RoleServer, config.Role)
		require.Equal(t, "warn", config.LogLevel)
		require.Equal(t, 60*time.Second, config.IdleTimeout)
		require.Equal(t, 20, config.ChannelCapacity)
	})

	t.Run("all flags", func(t *testing.T) {
		args := []string{
			"-client", "-loglevel", "debug", "-timeout", "7", "-bufsize", "3", "-raw-requests",
			":5300", "10.0.0.1:53",
		}
		config, err := parseConfig(args, &bytes.Buffer{})
		require.NoError(t, err)
		require.Equal(t, udpdnstun.RoleClient, config.Role)
		require.Equal(t, "debug", config.LogLevel)
		require.Equal(t, 7*time.Second, config.IdleTimeout)
		require.Equal(t, 3, config.ChannelCapacity)
		require.True(t, config.RawRequests)
	})

	t.Run("flags override the config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "udpdnstun.yaml")
		data := []byte("listen: :5300\ndestination: 10.0.0.1:53\nrole: client\ntimeout_seconds: 30\nchannel_capacity: 8\n")
		require.NoError(t, os.WriteFile(path, data, 0600))

		config, err := parseConfig([]string{"-config", path, "-timeout", "2"}, &bytes.Buffer{})
		require.NoError(t, err)
		require.Equal(t, ":5300", config.ListenAddr)
		require.Equal(t, udpdnstun.RoleClient, config.Role)
		require.Equal(t, 2*time.Second, config.IdleTimeout)
		require.Equal(t, 8, config.ChannelCapacity)

		config, err = parseConfig([]string{"-config", path, "-client=false", ":53", "127.0.0.1:5353"}, &bytes.Buffer{})
		require.NoError(t, err)
		require.Equal(t, udpdnstun.RoleServer, config.Role)
		require.Equal(t, ":53", config.ListenAddr)
		require.Equal(t, 30*time.Second, config.IdleTimeout)
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		stderr := &bytes.Buffer{}
		_, err := parseConfig([]string{":5300"}, stderr)
		require.Error(t, err)
		require.Contains(t, stderr.String(), "usage: udpdnstun")
	})

	t.Run("missing arguments without a config file", func(t *testing.T) {
		_, err := parseConfig(nil, &bytes.Buffer{})
		require.ErrorIs(t, err, udpdnstun.ErrInvalidConfig)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := parseConfig([]string{"-timeout", "0", ":5300", "127.0.0.1:53"}, &bytes.Buffer{})
		require.ErrorIs(t, err, udpdnstun.ErrInvalidConfig)
		_, err = parseConfig([]string{"-loglevel", "loud", ":5300", "127.0.0.1:53"}, &bytes.Buffer{})
		require.ErrorIs(t, err, udpdnstun.ErrInvalidConfig)
	})

	t.Run("help", func(t *testing.T) {
		_, err := parseConfig([]string{"-h"}, &bytes.Buffer{})
		require.ErrorIs(t, err, flag.ErrHelp)
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := parseConfig([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, &bytes.Buffer{})
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestRun(t *testing.T) {
	echo, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer echo.Close()

	config := udpdnstun.NewConfig()
	config.ListenAddr = "127.0.0.1:0"
	config.Destination = echo.LocalAddr().String()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, config.Resolve(ctx, net.DefaultResolver))
	errch := make(chan error, 1)
	go func() {
		errch <- run(ctx, config, slog.New(slog.DiscardHandler))
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-errch:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestRunFailsOnBadListenAddress(t *testing.T) {
	config := udpdnstun.NewConfig()
	config.ListenAddr = "256.0.0.1:0"
	config.Destination = "127.0.0.1:53"
	err := run(context.Background(), config, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}
