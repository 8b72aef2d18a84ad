package voting

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/radiovoter/voter/internal/wire"
)

// Proxy envelope flag bits (spec.md §4.6), mirroring the original driver's
// capability-summary byte reused inside the PROXY wrapper.
const (
	ProxyFlagNoDeEmphasis byte = 1 << 0
	ProxyFlagMaster1      byte = 1 << 1
	ProxyFlagNoPLFilter   byte = 1 << 2
	ProxyFlagMaster2      byte = 1 << 3
	ProxyFlagADPCM        byte = 1 << 4
	ProxyFlagMix          byte = 1 << 5
)

// ProxyEnvelopeSize is the wire size of the PROXY wrapper that precedes the
// original packet's own header+payload.
const ProxyEnvelopeSize = 4 + 2 + 2 + 1 + wire.ChallengeSize

// ProxyEnvelope carries the original client's address and capabilities so a
// primary server can treat a forwarded packet as if received directly.
type ProxyEnvelope struct {
	IP          [4]byte
	Port        uint16
	PayloadType wire.Payload
	Flags       byte
	Challenge   [wire.ChallengeSize]byte
}

// Encode serializes e to dst, which must be at least ProxyEnvelopeSize bytes.
func (e ProxyEnvelope) Encode(dst []byte) {
	_ = dst[ProxyEnvelopeSize-1]
	copy(dst[0:4], e.IP[:])
	binary.BigEndian.PutUint16(dst[4:6], e.Port)
	binary.BigEndian.PutUint16(dst[6:8], uint16(e.PayloadType))
	dst[8] = e.Flags
	copy(dst[9:9+wire.ChallengeSize], e.Challenge[:])
}

// DecodeProxyEnvelope parses a ProxyEnvelope from the front of src.
func DecodeProxyEnvelope(src []byte) (ProxyEnvelope, error) {
	if len(src) < ProxyEnvelopeSize {
		return ProxyEnvelope{}, fmt.Errorf("voting: short proxy envelope, got %d want %d", len(src), ProxyEnvelopeSize)
	}
	var e ProxyEnvelope
	copy(e.IP[:], src[0:4])
	e.Port = binary.BigEndian.Uint16(src[4:6])
	e.PayloadType = wire.Payload(binary.BigEndian.Uint16(src[6:8]))
	e.Flags = src[8]
	copy(e.Challenge[:], src[9:9+wire.ChallengeSize])
	return e, nil
}

// handleProxy unwraps a PROXY-enveloped packet arriving from a secondary
// server and re-dispatches the inner packet as if it came directly from the
// original client, recording the secondary's address as that client's
// relay path (spec.md §4.6).
func (r *Reader) handleProxy(h wire.Header, body []byte, secondaryAddr *net.UDPAddr) {
	if len(body) < ProxyEnvelopeSize+wire.HeaderSize {
		return
	}
	env, err := DecodeProxyEnvelope(body)
	if err != nil {
		r.logger.Debug("dropping malformed proxy envelope", "addr", secondaryAddr, "err", err)
		return
	}
	inner := body[ProxyEnvelopeSize:]
	innerHeader, err := wire.Decode(inner)
	if err != nil {
		r.logger.Debug("dropping malformed proxied packet", "addr", secondaryAddr, "err", err)
		return
	}
	innerBody := inner[wire.HeaderSize:]

	if innerHeader.PayloadType == wire.PayloadNone {
		r.handleAuth(innerHeader, innerBody, env.IP, &net.UDPAddr{IP: net.IP(env.IP[:]), Port: int(env.Port)})
	} else {
		c := r.state.LookupClient(innerHeader.Digest)
		if c == nil {
			return
		}
		r.state.Lock()
		c.IsProxied = true
		c.ProxyIP = ipTo4(secondaryAddr.IP)
		c.ProxyPort = secondaryAddr.Port
		r.state.Unlock()

		switch innerHeader.PayloadType {
		case wire.PayloadULaw, wire.PayloadADPCM, wire.PayloadNULaw:
			r.handleAudio(innerHeader, innerBody, env.IP, int(env.Port))
		case wire.PayloadGPS:
			r.handleGPS(innerHeader, innerBody, env.IP, int(env.Port))
		case wire.PayloadPing:
			r.handlePingReply(innerHeader, innerBody, env.IP, int(env.Port))
		}
	}
}

// WrapForPrimary builds an outer PROXY packet wrapping innerPacket for the
// client at clientIP:clientPort; the primary's transmitter uses it to send a
// proxied client's audio by way of that client's secondary (spec.md §4.6).
func WrapForPrimary(challenge string, secondaryPassword string, savedChallenge string, clientPassword string, clientIP [4]byte, clientPort int, payloadType wire.Payload, flags byte, innerPacket []byte) []byte {
	out := make([]byte, wire.HeaderSize+ProxyEnvelopeSize+len(innerPacket))

	outerHeader := wire.Header{
		Challenge:   wire.PutChallenge(challenge),
		Digest:      wire.Digest(savedChallenge, clientPassword),
		PayloadType: wire.PayloadProxy,
	}
	outerHeader.Encode(out[0:wire.HeaderSize])

	env := ProxyEnvelope{
		IP:          clientIP,
		Port:        uint16(clientPort),
		PayloadType: payloadType,
		Flags:       flags,
		Challenge:   wire.PutChallenge(savedChallenge),
	}
	env.Encode(out[wire.HeaderSize : wire.HeaderSize+ProxyEnvelopeSize])

	copy(out[wire.HeaderSize+ProxyEnvelopeSize:], innerPacket)
	return out
}

// PrimarySession is the connection state a secondary instance's worker
// maintains toward its primary server (spec.md §4.6, §4.7 "Primary session").
type PrimarySession int

const (
	PrimaryDisconnected PrimarySession = iota
	PrimaryAuthenticating
	PrimaryConnected
)

const (
	primaryKeepaliveUnauth = 500 * time.Millisecond
	primaryKeepaliveAuth   = 1000 * time.Millisecond
	primaryLossTimeout     = 2000 * time.Millisecond
)

// PrimaryWorker maintains one secondary instance's session to its primary
// server: periodic auth/keepalive packets, loss detection, and invalidation
// of proxy clients when the session drops.
type PrimaryWorker struct {
	state    *State
	instance *Instance
	conn     *net.UDPConn
	addr     *net.UDPAddr
	password string
	logger   *slog.Logger

	session        PrimarySession
	sentChallenge  string
	savedChallenge string
	lastReply      time.Time
}

// NewPrimaryWorker dials the configured primary endpoint over UDP.
func NewPrimaryWorker(state *State, instance *Instance, cfg *PrimaryConfig) (*PrimaryWorker, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("voting: resolving primary address %s: %w", cfg.Addr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("voting: dialing primary %s: %w", cfg.Addr, err)
	}
	return &PrimaryWorker{
		state:    state,
		instance: instance,
		conn:     conn,
		addr:     addr,
		password: cfg.Password,
		logger:   state.Logger().With("subsystem", "primary", "node", instance.Node),
	}, nil
}

// Run drives the session state machine until ctx is canceled.
func (w *PrimaryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(primaryKeepaliveUnauth)
	defer ticker.Stop()
	defer w.conn.Close()

	go w.readLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
			if w.session == PrimaryConnected {
				ticker.Reset(primaryKeepaliveAuth)
			} else {
				ticker.Reset(primaryKeepaliveUnauth)
			}
		}
	}
}

// readLoop consumes reply datagrams from the primary on w's dedicated
// socket; it runs alongside the keepalive ticker in Run.
func (w *PrimaryWorker) readLoop(ctx context.Context) {
	buf := make([]byte, maxPacketSize)
	for {
		if ctx.Err() != nil {
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := w.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		w.HandleReply(buf[:n])
	}
}

func (w *PrimaryWorker) tick() {
	switch w.session {
	case PrimaryDisconnected:
		w.sendAuth()
	case PrimaryAuthenticating, PrimaryConnected:
		if time.Since(w.lastReply) > primaryLossTimeout {
			w.logger.Warn("primary session lost")
			w.session = PrimaryDisconnected
			w.invalidateProxyClients()
			return
		}
		w.sendKeepalive()
	}
}

func (w *PrimaryWorker) sendAuth() {
	w.sentChallenge = fmt.Sprintf("p%09d", time.Now().UnixNano()%1e9)
	var buf [wire.HeaderSize]byte
	h := wire.Header{Challenge: wire.PutChallenge(w.sentChallenge), PayloadType: wire.PayloadNone}
	h.Encode(buf[:])
	if _, err := w.conn.Write(buf[:]); err != nil {
		w.logger.Debug("sending primary auth request failed", "err", err)
		return
	}
	w.session = PrimaryAuthenticating
}

func (w *PrimaryWorker) sendKeepalive() {
	var buf [wire.HeaderSize]byte
	h := wire.Header{
		Challenge:   wire.PutChallenge(w.savedChallenge),
		Digest:      wire.Digest(w.savedChallenge, w.password),
		PayloadType: wire.PayloadGPS,
	}
	h.Encode(buf[:])
	w.conn.Write(buf[:])
}

// HandleReply processes a reply datagram from the primary (auth ack or
// keepalive echo), advancing the session state machine.
func (w *PrimaryWorker) HandleReply(data []byte) {
	h, err := wire.Decode(data)
	if err != nil {
		return
	}
	w.lastReply = time.Now()
	if w.session == PrimaryAuthenticating {
		expected := wire.Digest(w.sentChallenge, w.password)
		if h.Digest == expected {
			w.savedChallenge = h.ChallengeString()
			w.session = PrimaryConnected
			w.logger.Info("connected to primary")
		}
	}
}

// Connected reports whether the session is established.
func (w *PrimaryWorker) Connected() bool { return w.session == PrimaryConnected }

func (w *PrimaryWorker) invalidateProxyClients() {
	w.state.Lock()
	defer w.state.Unlock()
	for _, c := range w.instance.Clients {
		if c.IsProxied {
			w.state.invalidateLocked(c)
		}
	}
}
