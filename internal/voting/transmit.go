package voting

import (
	"net"
	"sort"
	"time"

	"github.com/radiovoter/voter/internal/codec"
	"github.com/radiovoter/voter/internal/wire"
)

// Transmitter is the per-instance TX worker: on each 20ms tick it drains
// the outbound audio queue, mixes CTCSS if configured, and fans the frame
// out to every client of the instance in that client's wire encoding,
// servicing keepalives and pings along the way (spec.md §4.5).
type Transmitter struct {
	state    *State
	instance *Instance
	conn     *net.UDPConn
}

// NewTransmitter builds a Transmitter that writes through conn.
func NewTransmitter(state *State, instance *Instance, conn *net.UDPConn) *Transmitter {
	return &Transmitter{state: state, instance: instance, conn: conn}
}

// Tick runs one transmit cycle.
func (t *Transmitter) Tick() {
	t.state.Lock()
	defer t.state.Unlock()

	in := t.instance
	noMaster := t.state.MasterClient == nil

	frame, ok := in.dequeueTX()
	if !ok {
		frame = make([]int16, FrameSize)
	}
	if noMaster {
		// spec.md §4.5 point 1: drop frames while the master is absent.
		frame = make([]int16, FrameSize)
	}

	if in.Tone != nil && in.CTCSSFreq > 0 {
		in.Tone.Mix(frame, in.CTCSSFreq, in.CTCSSLevel)
	}

	ulaw := make([]byte, FrameSize)
	codec.EncodeFrame(frame, ulaw)

	clients := make([]*Client, 0, len(in.Clients))
	for _, c := range in.Clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Digest < clients[j].Digest })

	now := nowFunc()
	for _, c := range clients {
		if c.Digest == 0 || !c.HeardFrom || !c.ToTransmit || c.TXLockout {
			continue
		}
		if c.IsProxied {
			// primary-mode-filtered: outbound audio for proxied clients
			// routes back through the secondary's relay path instead of a
			// direct audio packet (spec.md §4.6).
			t.sendProxiedAudio(c, ulaw)
			continue
		}
		t.sendAudio(c, ulaw, now)
	}

	t.serviceKeepalives(clients, now)
	t.servicePings(clients, now)
}

func (t *Transmitter) sendAudio(c *Client, ulaw []byte, now time.Time) {
	var payloadType wire.Payload
	var body []byte

	switch {
	case c.DoADPCM:
		if !c.txPairValid {
			c.txPair = append([]byte(nil), ulaw...)
			c.txPairValid = true
			return
		}
		lin := make([]int16, codec.ADPCMSamples)
		codec.DecodeFrame(c.txPair, lin[:FrameSize])
		codec.DecodeFrame(ulaw, lin[FrameSize:])
		c.txPairValid = false

		frame := make([]byte, codec.ADPCMFrameSize)
		codec.EncodeADPCM(lin, frame)
		payloadType = wire.PayloadADPCM
		body = frame
	case c.DoNULaw:
		if !c.txPairValid {
			c.txPair = append([]byte(nil), ulaw...)
			c.txPairValid = true
			return
		}
		lin := make([]int16, codec.NULawSamples)
		codec.DecodeFrame(c.txPair, lin[:FrameSize])
		codec.DecodeFrame(ulaw, lin[FrameSize:])
		c.txPairValid = false

		frame := make([]byte, codec.NULawFrameSize)
		codec.EncodeNULaw(lin, frame)
		payloadType = wire.PayloadNULaw
		body = frame
	default:
		payloadType = wire.PayloadULaw
		body = ulaw
	}

	rssi := byte(200) // constant outbound carrier indicator; RSSI is meaningful only on uplink
	pkt := make([]byte, wire.HeaderSize+1+len(body))
	h := wire.Header{
		Time:        t.txTimeFor(c),
		Challenge:   wire.PutChallenge(t.state.Challenge),
		Digest:      c.Digest,
		PayloadType: payloadType,
	}
	h.Encode(pkt[:wire.HeaderSize])
	pkt[wire.HeaderSize] = rssi
	copy(pkt[wire.HeaderSize+1:], body)

	t.writeTo(c, pkt)
	c.LastSentTime = now
	c.TXSeqno++
}

// txTimeFor computes the outgoing header's timebase field: the running TX
// sequence number for mix clients, or the master's current time for voted
// clients (spec.md §4.5 point 3).
func (t *Transmitter) txTimeFor(c *Client) wire.VTime {
	if c.Mix {
		return wire.VTime{Nsec: c.TXSeqno}
	}
	return t.state.MasterTime
}

func (t *Transmitter) sendProxiedAudio(c *Client, ulaw []byte) {
	pkt := make([]byte, wire.HeaderSize+1+FrameSize)
	h := wire.Header{
		Time:        t.txTimeFor(c),
		Challenge:   wire.PutChallenge(t.state.Challenge),
		Digest:      c.Digest,
		PayloadType: wire.PayloadULaw,
	}
	h.Encode(pkt[:wire.HeaderSize])
	pkt[wire.HeaderSize] = 200
	copy(pkt[wire.HeaderSize+1:], ulaw)

	wrapped := WrapForPrimary(t.state.Challenge, c.Password, t.state.Challenge, c.Password, c.IP, c.Port, wire.PayloadULaw, 0, pkt)
	addr := &net.UDPAddr{IP: net.IP(c.ProxyIP[:]), Port: c.ProxyPort}
	t.conn.WriteToUDP(wrapped, addr)
	c.LastSentTime = nowFunc()
}

func (t *Transmitter) writeTo(c *Client, pkt []byte) {
	addr := &net.UDPAddr{IP: net.IP(c.IP[:]), Port: c.Port}
	t.conn.WriteToUDP(pkt, addr)
}

// serviceKeepalives emits an empty GPS packet to any client that hasn't
// received audio in TXKeepaliveMs (spec.md §4.5 point 4).
func (t *Transmitter) serviceKeepalives(clients []*Client, now time.Time) {
	for _, c := range clients {
		if c.Digest == 0 || !c.HeardFrom {
			continue
		}
		if now.Sub(c.LastSentTime) < TXKeepaliveMs*time.Millisecond {
			continue
		}
		var pkt [wire.HeaderSize]byte
		h := wire.Header{
			Challenge:   wire.PutChallenge(t.state.Challenge),
			Digest:      c.Digest,
			PayloadType: wire.PayloadGPS,
		}
		h.Encode(pkt[:])
		t.writeTo(c, pkt[:])
		c.LastSentTime = now
	}
}

// servicePings sends up to one PING per client per PingTimeMs until the
// client's requested count has been sent (spec.md §4.5 point 5). Replies
// are not awaited before the next send, and no PingTimeoutMs timeout ends
// a batch.
func (t *Transmitter) servicePings(clients []*Client, now time.Time) {
	for _, c := range clients {
		if c.Digest == 0 || c.Ping.Aborted || c.Ping.Sent >= c.Ping.Requested {
			continue
		}
		if !c.Ping.TXTime.IsZero() && now.Sub(c.Ping.TXTime) < PingTimeMs*time.Millisecond {
			continue
		}
		c.Ping.Seqno++
		c.Ping.TXTime = now
		c.Ping.Sent++

		body := EncodePingBody(PingBody{
			Seqno:    c.Ping.Seqno,
			TXTimeNs: now.UnixNano(),
			StartNs:  c.Ping.sessionStartNs,
		})
		pkt := make([]byte, wire.HeaderSize+len(body))
		h := wire.Header{
			Challenge:   wire.PutChallenge(t.state.Challenge),
			Digest:      c.Digest,
			PayloadType: wire.PayloadPing,
		}
		h.Encode(pkt[:wire.HeaderSize])
		copy(pkt[wire.HeaderSize:], body)
		t.writeTo(c, pkt)
	}
}
