package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/radiovoter/voter/internal/codec"
	"github.com/radiovoter/voter/internal/wire"
)

// maxPacketSize is generously larger than the widest payload (PROXY
// envelope wrapping an ADPCM frame).
const maxPacketSize = 2048

// Reader owns the shared UDP socket, authenticates clients, and dispatches
// every inbound datagram by payload type, writing decoded audio into the
// matched client's ring buffers and triggering a vote when the current
// master's packet lands.
type Reader struct {
	state   *State
	conn    *net.UDPConn
	logger  *slog.Logger
	dataDir string

	onMasterTick func(in *Instance) // invoked after the master client's frame is placed
}

// NewReader constructs a Reader bound to an already-opened UDP socket.
// dataDir is the root directory GPS fix lines are written under.
func NewReader(state *State, conn *net.UDPConn, dataDir string, onMasterTick func(in *Instance)) *Reader {
	return &Reader{
		state:        state,
		conn:         conn,
		logger:       state.Logger().With("subsystem", "reader"),
		dataDir:      dataDir,
		onMasterTick: onMasterTick,
	}
}

// Run blocks, reading and dispatching packets until ctx is canceled or the
// socket errors. A short read deadline keeps the loop responsive to
// cancellation, mirroring the original driver's poll-with-timeout reader.
func (r *Reader) Run(ctx context.Context) error {
	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("voting: reading UDP socket: %w", err)
		}

		r.dispatch(buf[:n], addr)
	}
}

func (r *Reader) dispatch(data []byte, addr *net.UDPAddr) {
	h, err := wire.Decode(data)
	if err != nil {
		r.logger.Debug("dropping malformed packet", "addr", addr, "err", err)
		return
	}
	body := data[wire.HeaderSize:]
	ip := ipTo4(addr.IP)

	switch h.PayloadType {
	case wire.PayloadNone:
		r.handleAuth(h, body, ip, addr)
	case wire.PayloadULaw, wire.PayloadADPCM, wire.PayloadNULaw:
		r.handleAudio(h, body, ip, addr.Port)
	case wire.PayloadGPS:
		r.handleGPS(h, body, ip, addr.Port)
	case wire.PayloadPing:
		r.handlePingReply(h, body, ip, addr.Port)
	case wire.PayloadProxy:
		r.handleProxy(h, body, addr)
	default:
		r.logger.Debug("dropping packet with unknown payload type", "type", h.PayloadType, "addr", addr)
	}
}

func ipTo4(ip net.IP) [4]byte {
	var out [4]byte
	v4 := ip.To4()
	copy(out[:], v4)
	return out
}

func (r *Reader) handleAuth(h wire.Header, body []byte, ip [4]byte, addr *net.UDPAddr) {
	requestMix := len(body) >= 1 && body[0]&ClientRequestMix != 0
	clientChallenge := h.ChallengeString()

	c, reply, err := r.state.Authenticate(clientChallenge, requestMix, ip, addr.Port)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoMasterConfigured):
			if r.state.WarnOnce(0) {
				r.logger.Warn("client attempted to authenticate with no master configured", "addr", addr)
			}
		case errors.Is(err, ErrUnknownClient):
			// Unknown source IP: the server stays silent, per spec.md §4.1
			// "respond as if unknown".
		default:
			r.logger.Debug("authentication failed", "addr", addr, "err", err)
		}
		return
	}

	var respBuf [wire.HeaderSize + 1]byte
	respHeader := wire.Header{
		Time:        wire.VTime{},
		Challenge:   wire.PutChallenge(reply.Challenge),
		Digest:      reply.Digest,
		PayloadType: wire.PayloadNone,
	}
	respHeader.Encode(respBuf[:wire.HeaderSize])
	respBuf[wire.HeaderSize] = reply.Flags

	if _, err := r.conn.WriteToUDP(respBuf[:], addr); err != nil {
		r.logger.Warn("failed to send auth reply", "addr", addr, "err", err)
		return
	}
	r.logger.Debug("client authenticated", "client", c.Name, "node", c.Node, "addr", addr)
}

func (r *Reader) handleAudio(h wire.Header, body []byte, ip [4]byte, port int) {
	c := r.state.LookupClient(h.Digest)
	if c == nil {
		return // unknown digest: drop silently (spec.md §4.1)
	}

	r.state.Lock()

	if len(body) < 1 {
		r.state.Unlock()
		return
	}
	rssi := body[0]
	payload := body[1:]

	c.IP = ip
	c.Port = port
	c.HeardFrom = true
	c.LastHeardTime = nowFunc()

	var frames [2][]byte
	frameCount := 0

	switch h.PayloadType {
	case wire.PayloadULaw:
		if len(payload) < FrameSize {
			r.state.Unlock()
			return
		}
		frames[0] = payload[:FrameSize]
		frameCount = 1
	case wire.PayloadADPCM:
		if len(payload) < codec.ADPCMFrameSize {
			r.state.Unlock()
			return
		}
		lin := make([]int16, codec.ADPCMSamples)
		codec.DecodeADPCM(payload[:codec.ADPCMFrameSize], lin)
		f0, f1 := make([]byte, FrameSize), make([]byte, FrameSize)
		codec.EncodeFrame(lin[:FrameSize], f0)
		codec.EncodeFrame(lin[FrameSize:], f1)
		frames[0], frames[1] = f0, f1
		frameCount = 2
	case wire.PayloadNULaw:
		if len(payload) < codec.NULawFrameSize {
			r.state.Unlock()
			return
		}
		lin := make([]int16, codec.NULawSamples)
		codec.DecodeNULaw(payload[:codec.NULawFrameSize], lin)
		f0, f1 := make([]byte, FrameSize), make([]byte, FrameSize)
		codec.EncodeFrame(lin[:FrameSize], f0)
		codec.EncodeFrame(lin[FrameSize:], f1)
		frames[0], frames[1] = f0, f1
		frameCount = 2
	}

	r.state.electMasterLocked()

	isMaster := c.CurMaster
	if isMaster {
		r.state.MasterTime = h.Time
		r.state.tickCount = 0
	}

	if c.Mix {
		r.placeMixFrames(c, h.Time.Nsec, frames[:frameCount], rssi)
	} else {
		r.placeVotedFrames(c, h.Time, frames[:frameCount], rssi)
	}

	in := r.state.Instances[c.Node]
	if in != nil {
		in.mu.Lock()
		in.lastRXTime = nowFunc()
		in.mu.Unlock()
	}

	var masterInstance *Instance
	if isMaster && in != nil && r.onMasterTick != nil {
		masterInstance = in
	}

	r.state.Unlock()

	if masterInstance != nil {
		r.onMasterTick(masterInstance)
	}
}

func (r *Reader) placeMixFrames(c *Client, pktSeq uint32, frames [][]byte, rssi byte) {
	seq := c.RXSeqno
	if !c.HeardFrom || (c.RXSeqno == 0 && c.RXSeqno40ms == 0) {
		seq = pktSeq
		c.RXSeqno = pktSeq
		c.RXSeqno40ms = pktSeq
	}
	index, reset := mixWriteIndex(c.BufferDelay(), pktSeq, seq)
	if reset {
		c.RXSeqno = pktSeq
		c.RXSeqno40ms = pktSeq
		return
	}
	for i, f := range frames {
		fi := index + i*FrameSize
		if !inBounds(fi, c.BufLen) {
			c.RXSeqno = 0
			c.RXSeqno40ms = 0
			return
		}
		c.WriteFrame(fi, f, rssi)
	}
	c.RXSeqno = pktSeq + uint32(len(frames))
}

func (r *Reader) placeVotedFrames(c *Client, t wire.VTime, frames [][]byte, rssi byte) {
	packetNs := int64(t.Sec)*1e9 + int64(t.Nsec)
	masterNs := int64(r.state.MasterTime.Sec)*1e9 + int64(r.state.MasterTime.Nsec)

	var puckOffset int64
	if r.state.Puckit {
		puckOffset = c.PuckOffset(r.state.MasterGPSTime)
	}

	for i, f := range frames {
		fPacketNs := packetNs + int64(i)*20_000_000
		index := votedWriteIndex(c.BufferDelay(), masterNs, fPacketNs, puckOffset, c.CurMaster)
		if !inBounds(index, c.BufLen) {
			continue // drop this frame, voted mode (spec.md §4.2)
		}
		c.WriteFrame(index, f, rssi)
	}
}

func (r *Reader) handleGPS(h wire.Header, body []byte, ip [4]byte, port int) {
	c := r.state.LookupClient(h.Digest)
	if c == nil {
		return
	}

	r.state.Lock()
	c.IP = ip
	c.Port = port
	c.HeardFrom = true
	c.LastHeardTime = nowFunc()

	if len(body) == 0 {
		r.state.Unlock()
		return // keepalive only
	}

	fix, elev, err := ParseGPSFix(body)
	if err != nil {
		r.state.Unlock()
		r.logger.Debug("dropping malformed GPS packet", "client", c.Name, "err", err)
		return
	}
	c.GPSFix = fix
	c.HasGPSFix = true
	c.LastGPSTime = nowFunc()
	isMaster := c.CurMaster
	gpsID := c.GPSID
	if isMaster {
		r.state.MasterGPSTime = c.LastGPSTime
	}
	r.state.Unlock()

	if gpsID != "" && r.dataDir != "" {
		if err := WriteGPSLine(r.dataDir, gpsID, nowFunc(), fix, elev); err != nil {
			r.logger.Warn("writing GPS work file failed", "client", c.Name, "err", err)
		}
	}
}
