package voting

import (
	"errors"
	"fmt"

	"github.com/radiovoter/voter/internal/wire"
)

// Server-granted capability bits in the auth reply's trailing flag byte
// (spec.md §4.1 point 2).
const (
	FlagMaster       byte = 1 << 0
	FlagNoDeEmphasis byte = 1 << 1
	FlagMasterIndic  byte = 1 << 2
	FlagADPCM        byte = 1 << 3
	FlagMix          byte = 1 << 4
	FlagNoPLFilter   byte = 1 << 5
)

// ClientRequestMix is the client-declared capability bit on the initial
// digest=0 handshake packet's trailing flag byte.
const ClientRequestMix byte = 1 << 4

// ErrUnknownClient means no roster entry matches the handshake's source IP.
var ErrUnknownClient = errors.New("voting: unknown client")

// ErrMasterMayNotMix means a client flagged as the timing master also
// requested mix mode, which the protocol forbids (spec.md §4.1).
var ErrMasterMayNotMix = errors.New("voting: master client may not request mix mode")

// ErrNoMasterConfigured means a non-master client attempted to authenticate
// while no instance's roster has a client configured as master (spec.md
// §4.1); the
// caller is responsible for rate-limiting the corresponding log line via
// State.WarnOnce.
var ErrNoMasterConfigured = errors.New("voting: no master configured")

// AuthReply is the server's response to a digest=0 handshake packet.
type AuthReply struct {
	Challenge string // the server's own stable challenge
	Digest    uint32 // CRC32(client_challenge, client_password)
	Flags     byte
}

// Authenticate processes a digest=0 handshake packet from remoteIP,
// matching it against every instance's roster (the wire protocol carries no
// node identifier; all instances share one socket and one digest space, so
// a client's home node is resolved purely from its configured IP). It
// returns the matched client and the reply to send. The client is NOT yet
// marked HeardFrom — that happens on its first audio or GPS packet, an
// empty GPS keepalive included (spec.md §4.7 client state machine). With
// sanity checking enabled, a client whose (ip, port) is already held by
// another heard-from client of the same instance is refused and both are
// invalidated.
func (s *State) Authenticate(clientChallenge string, requestMix bool, remoteIP [4]byte, remotePort int) (*Client, AuthReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c *Client
	var in *Instance
	for _, candidate := range s.Instances {
		if found := candidate.FindRosterByIP(remoteIP); found != nil {
			c, in = found, candidate
			break
		}
	}
	if c == nil {
		return nil, AuthReply{}, fmt.Errorf("voting: %w: ip %v not configured on any node", ErrUnknownClient, remoteIP)
	}

	if c.IsMaster && requestMix {
		s.invalidateLocked(c)
		return nil, AuthReply{}, ErrMasterMayNotMix
	}

	if !c.IsMaster && !s.hasAnyMasterConfiguredLocked() {
		return nil, AuthReply{}, ErrNoMasterConfigured
	}

	if s.Sanity {
		for _, other := range in.Clients {
			if other == c {
				continue
			}
			if other.HeardFrom && other.IP == remoteIP && other.Port == remotePort {
				s.invalidateLocked(other)
				s.invalidateLocked(c)
				return nil, AuthReply{}, fmt.Errorf("voting: duplicate (ip, port) for node %d between %q and %q", in.Node, other.Name, c.Name)
			}
		}
	}

	c.Port = remotePort
	c.Mix = requestMix

	replyDigest := wire.Digest(clientChallenge, c.Password)
	nextDigest := wire.Digest(s.Challenge, c.Password)

	delete(s.clientsByDigest, c.Digest)
	delete(in.Clients, c.Digest)
	c.Digest = nextDigest
	in.Clients[nextDigest] = c
	s.clientsByDigest[nextDigest] = c

	flags := byte(0)
	if c.IsMaster {
		flags |= FlagMaster | FlagMasterIndic
	}
	if c.NoDeEmphasis {
		flags |= FlagNoDeEmphasis
	}
	if c.DoADPCM {
		flags |= FlagADPCM
	}
	if c.Mix {
		flags |= FlagMix
	}
	if c.NoPLFilter {
		flags |= FlagNoPLFilter
	}

	return c, AuthReply{Challenge: s.Challenge, Digest: replyDigest, Flags: flags}, nil
}
