package voting

import (
	"encoding/binary"
	"fmt"

	"github.com/radiovoter/voter/internal/wire"
)

// PingBodySize is the wire size of one PING payload: a 4-byte sequence
// number, two 8-byte timestamps (sender tx time and ping-session start
// time), and a 128-byte filler pattern used only to pad the datagram to a
// size representative of real audio traffic.
const PingBodySize = 4 + 8 + 8 + 128

// PingBody is the decoded PING payload.
type PingBody struct {
	Seqno     uint32
	TXTimeNs  int64
	StartNs   int64
	Filler    [128]byte
}

// EncodePingBody serializes a PingBody to wire format. The filler pattern
// is (seqno & 0xFF) + i, matching the original driver — it exists to catch
// gross corruption in transit but is never validated on receipt.
func EncodePingBody(p PingBody) []byte {
	out := make([]byte, PingBodySize)
	binary.BigEndian.PutUint32(out[0:4], p.Seqno)
	binary.BigEndian.PutUint64(out[4:12], uint64(p.TXTimeNs))
	binary.BigEndian.PutUint64(out[12:20], uint64(p.StartNs))
	fill := byte(p.Seqno&0xFF)
	for i := range p.Filler {
		out[20+i] = fill + byte(i)
	}
	return out
}

// DecodePingBody parses a PING payload.
func DecodePingBody(body []byte) (PingBody, error) {
	if len(body) < PingBodySize {
		return PingBody{}, fmt.Errorf("voting: short PING body, got %d want %d", len(body), PingBodySize)
	}
	var p PingBody
	p.Seqno = binary.BigEndian.Uint32(body[0:4])
	p.TXTimeNs = int64(binary.BigEndian.Uint64(body[4:12]))
	p.StartNs = int64(binary.BigEndian.Uint64(body[12:20]))
	copy(p.Filler[:], body[20:20+128])
	return p, nil
}

// handlePingReply updates a client's round-trip statistics from an echoed
// PING packet (spec.md §4.5 point 5, §4.10 point 5, §8 scenario 6).
func (r *Reader) handlePingReply(h wire.Header, body []byte, ip [4]byte, port int) {
	c := r.state.LookupClient(h.Digest)
	if c == nil {
		return
	}
	p, err := DecodePingBody(body)
	if err != nil {
		r.logger.Debug("dropping malformed ping reply", "addr", ip, "err", err)
		return
	}

	r.state.Lock()
	defer r.state.Unlock()

	if c.Ping.Aborted {
		return
	}
	if p.StartNs != pingSessionStart(c) {
		return // stale reply from a previous ping() invocation
	}

	c.IP = ip
	c.Port = port

	now := nowFunc()
	rttMs := int(now.UnixNano()-p.TXTimeNs) / 1_000_000
	if rttMs < 0 {
		rttMs = 0
	}

	if p.Seqno != c.Ping.LastSeqno+1 {
		c.Ping.OutOfSeq++
	}
	c.Ping.LastSeqno = p.Seqno
	c.Ping.Received++
	c.Ping.TotalMs += rttMs
	if c.Ping.Received == 1 || rttMs < c.Ping.BestMs {
		c.Ping.BestMs = rttMs
	}
	if rttMs > c.Ping.WorstMs {
		c.Ping.WorstMs = rttMs
	}
	c.Ping.LastRXTime = now

	if r.state.OnPingRTT != nil {
		r.state.OnPingRTT(c.Node, float64(rttMs))
	}
}

func pingSessionStart(c *Client) int64 {
	return c.Ping.sessionStartNs
}

// StartPing arms a new ping batch of count requests against c (spec.md §6
// control surface operation ping(client, count); count==0 aborts).
func (s *State) StartPing(c *Client, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count == 0 {
		c.Ping.Aborted = true
		return
	}
	c.Ping.sessionStartNs = nowFunc().UnixNano()
	c.Ping.Requested = count
	c.Ping.Sent = 0
	c.Ping.Received = 0
	c.Ping.OutOfSeq = 0
	c.Ping.BestMs = 0
	c.Ping.WorstMs = 0
	c.Ping.TotalMs = 0
	c.Ping.LastSeqno = 0
	c.Ping.Seqno = 0
	c.Ping.Aborted = false
}

// PingSummary reports the final (sent, received, oos, best, worst, avg)
// tuple for a completed or in-progress ping batch (spec.md §8 scenario 6).
type PingSummary struct {
	Sent     int
	Received int
	OutOfSeq int
	BestMs   int
	WorstMs  int
	AvgMs    float64
}

// Summary computes the current PingSummary for this client's ping state.
func (p PingState) Summary() PingSummary {
	avg := 0.0
	if p.Received > 0 {
		avg = float64(p.TotalMs) / float64(p.Received)
	}
	return PingSummary{
		Sent:     p.Sent,
		Received: p.Received,
		OutOfSeq: p.OutOfSeq,
		BestMs:   p.BestMs,
		WorstMs:  p.WorstMs,
		AvgMs:    avg,
	}
}
