// SPDX-License-Identifier: GPL-3.0-or-later

// Package udpdnstun tunnels UDP datagrams inside DNS messages.
//
// A [*Dispatcher] owns a single listening socket and fans inbound datagrams
// out to per-peer flows. Each flow owns an ephemeral upstream socket towards
// the tunnel destination and an idle timer; it ends when no traffic crosses it
// in either direction for [Config.IdleTimeout].
//
// The [RoleClient] wraps datagrams into DNS queries (see [EncodeQuery]) and
// unwraps the TXT answers it gets back (see [DecodeAnswer]). The [RoleServer]
// does the reverse with [DecodeQuery] and [EncodeAnswer].
//
// Setting [Config.RawRequests] (the -raw-requests flag of the command)
// forwards the datagrams received on the listening socket to the destination
// verbatim, for either role. Replies are still transformed.
//
// The tunnel provides neither encryption nor authentication.
package udpdnstun
