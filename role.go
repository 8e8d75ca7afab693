// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import (
	"fmt"
	"strings"
)

// Role selects which side of the tunnel the process implements.
type Role int

const (
	// RoleServer unwraps DNS queries, relays the plaintext to the
	// destination, and wraps replies into DNS answers.
	RoleServer Role = iota

	// RoleClient wraps plaintext into DNS queries and unwraps the
	// DNS answers sent back by the destination.
	RoleClient
)

// String implements [fmt.Stringer].
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole parses "client" or "server" (case insensitive).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client":
		return RoleClient, nil
	case "server", "":
		return RoleServer, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, s)
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// transformFunc converts a datagram crossing a flow in one direction.
type transformFunc func(payload []byte) ([]byte, error)

// identityTransform returns its input unchanged.
func identityTransform(payload []byte) ([]byte, error) {
	return payload, nil
}

// requestTransform returns the transform applied to datagrams going from
// the peer towards the destination.
//
// When raw is true requests cross the flow unchanged, which is how the
// first versions of the tunnel behaved.
func (r Role) requestTransform(raw bool) transformFunc {
	switch {
	case raw:
		return identityTransform
	case r == RoleClient:
		return PackQuery
	default:
		return DecodeQuery
	}
}

// replyTransform returns the transform applied to datagrams going from
// the destination back to the peer.
func (r Role) replyTransform() transformFunc {
	if r == RoleClient {
		return DecodeAnswer
	}
	return PackAnswer
}
