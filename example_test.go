// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun_test

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/udpdnstun"
	"github.com/miekg/dns"
)

// listenLoopback opens a UDP socket on 127.0.0.1 and returns its address.
func listenLoopback() (net.PacketConn, netip.AddrPort) {
	conn := runtimex.PanicOnError1(net.ListenPacket("udp4", "127.0.0.1:0"))
	addr := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return conn, netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

func Example_withLocalTunnel() {
	// 1. Create an UDP echo server acting as the final destination
	echo, echoAddr := listenLoopback()
	defer echo.Close()
	go func() {
		buf := make([]byte, 65535)
		for {
			count, addr, err := echo.ReadFrom(buf)
			if err != nil {
				return
			}
			echo.WriteTo(buf[:count], addr)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Create the server side of the tunnel relaying to the echo server
	serverConn, serverAddr := listenLoopback()
	serverConfig := udpdnstun.NewConfig()
	serverConfig.DestinationAddr = echoAddr
	server := runtimex.PanicOnError1(udpdnstun.NewDispatcher(serverConn, serverConfig, nil))
	go server.Serve(ctx)

	// 3. Create the client side of the tunnel relaying to the server
	clientConn, clientAddr := listenLoopback()
	clientConfig := udpdnstun.NewConfig()
	clientConfig.Role = udpdnstun.RoleClient
	clientConfig.DestinationAddr = serverAddr
	client := runtimex.PanicOnError1(udpdnstun.NewDispatcher(clientConn, clientConfig, nil))
	go client.Serve(ctx)

	// 4. Send a datagram through the tunnel
	app, _ := listenLoopback()
	defer app.Close()
	runtimex.PanicOnError1(app.WriteTo([]byte("hello, world"), net.UDPAddrFromAddrPort(clientAddr)))

	// 5. Read the echoed datagram
	runtimex.Assert(app.SetReadDeadline(time.Now().Add(5*time.Second)) == nil)
	buf := make([]byte, 65535)
	count, _, err := app.ReadFrom(buf)
	runtimex.Assert(err == nil)
	fmt.Printf("%s\n", buf[:count])

	// Output:
	// hello, world
}

func ExampleEncodeQuery() {
	// 1. Wrap the payload into a DNS query
	msg := udpdnstun.EncodeQuery([]byte("ping"))

	// 2. Print the question carrying the payload
	for _, q := range msg.Question {
		fmt.Println(q.Name, dns.TypeToString[q.Qtype])
	}

	// 3. Decode the payload back from the wire format
	raw := runtimex.PanicOnError1(msg.Pack())
	payload := runtimex.PanicOnError1(udpdnstun.DecodeQuery(raw))
	fmt.Printf("%s\n", payload)

	// Output:
	// cGluZw. TXT
	// ping
}
