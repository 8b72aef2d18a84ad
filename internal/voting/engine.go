package voting

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/radiovoter/voter/internal/codec"
	"github.com/radiovoter/voter/internal/hostchan"
)

// rxTimeout is how long carrier is held asserted after the last candidate
// packet arrives before a RADIO_UNKEY fires (spec.md §4.4).
const rxTimeout = RXTimeoutMs * time.Millisecond

// Engine runs one instance's per-tick vote/mix/dispatch pass: RSSI voting,
// mix summation, DTMF detection, carrier-state transitions, recording, and
// status-datagram fanout to stream subscribers (spec.md §4.3/§4.4). It is
// the callback both the reader loop (on a master packet) and the timer loop
// (absent any master) invoke to actually produce output.
type Engine struct {
	state  *State
	conn   *net.UDPConn // only used to fan status datagrams out to stream subscribers
	rnd    *rand.Rand
	logger *slog.Logger
}

// NewEngine builds an Engine. conn may be nil if no instance configures
// stream subscribers.
func NewEngine(state *State, conn *net.UDPConn) *Engine {
	return &Engine{
		state:  state,
		conn:   conn,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: state.Logger().With("subsystem", "engine"),
	}
}

// RunVoteCycle runs one 20ms vote/mix/dispatch pass for in. It acquires
// State's lock itself for the vote/mix step, then dispatches to the
// instance's sink lock-free — safe to call from the reader loop after a
// master client's frame lands, or from the timer loop when no master is
// currently elected.
func (e *Engine) RunVoteCycle(in *Instance) {
	e.state.Lock()
	result := in.Vote(e.rnd)
	outbound := in.MixInto(result.Outbound)
	statusLine := e.buildStatusLine(in, result)
	frame := e.buildDisplayFrame(in, result)
	e.state.Unlock()

	in.publishDisplay(frame)
	e.dispatch(in, result, outbound, statusLine)
}

// buildDisplayFrame renders the current vote cycle's per-client RSSI/winner
// view for display(node) subscribers. Caller holds State's lock.
func (e *Engine) buildDisplayFrame(in *Instance, result VoteResult) DisplayFrame {
	winnerName := ""
	if result.Winner != nil {
		winnerName = result.Winner.Name
	}
	frame := DisplayFrame{Node: in.Node, Winner: winnerName}
	for _, c := range in.voteCandidates() {
		frame.Clients = append(frame.Clients, ClientStatusReport{
			Name:         c.Name,
			Transmit:     c.ToTransmit,
			Master:       c.CurMaster,
			PrioOverride: c.PrioOverride,
			LastRSSI:     c.LastRSSI,
		})
	}
	return frame
}

// VoteAllInstances runs one vote/mix/dispatch pass across every registered
// instance; wired as the timer loop's VoteAll hook for when no client
// currently drives the shared master timebase (spec.md §2 "Timer loop").
func (e *Engine) VoteAllInstances() {
	e.state.Lock()
	instances := make([]*Instance, 0, len(e.state.Instances))
	for _, in := range e.state.Instances {
		instances = append(instances, in)
	}
	e.state.Unlock()

	for _, in := range instances {
		e.RunVoteCycle(in)
	}
}

// buildStatusLine renders the "winner,client1=rssi,client2=rssi,..." tail of
// the stream-subscriber status datagram (spec.md §4.3 point 6). Caller holds
// State's lock.
func (e *Engine) buildStatusLine(in *Instance, result VoteResult) string {
	winnerName := "none"
	if result.Winner != nil {
		winnerName = result.Winner.Name
	}
	var sb strings.Builder
	sb.WriteString(winnerName)
	for _, c := range in.voteCandidates() {
		fmt.Fprintf(&sb, ",%s=%d", c.Name, c.LastRSSI)
	}
	return sb.String()
}

// dispatch delivers one vote cycle's results to the instance's host sink:
// carrier-state transitions, winner-change/DTMF text frames, the mixed
// audio frame itself, recording, and stream-subscriber status datagrams.
// Runs lock-free; in.mu still guards the small bit of carrier-state kept on
// Instance.
func (e *Engine) dispatch(in *Instance, result VoteResult, outbound []byte, statusLine string) {
	now := nowFunc()

	in.mu.Lock()
	wasKeyed := in.rxKey
	heardRecently := !in.lastRXTime.IsZero() && now.Sub(in.lastRXTime) < rxTimeout
	keyed := result.Winner != nil && heardRecently
	in.rxKey = keyed
	sink := in.Sink
	in.mu.Unlock()

	lin := make([]int16, FrameSize)
	codec.DecodeFrame(outbound, lin)

	if sink != nil {
		switch {
		case keyed && !wasKeyed:
			if err := sink.PushControl(hostchan.RadioKey); err != nil {
				e.logger.Warn("pushing RADIO_KEY failed", "node", in.Node, "err", err)
			}
		case !keyed && wasKeyed:
			if err := sink.PushControl(hostchan.RadioUnkey); err != nil {
				e.logger.Warn("pushing RADIO_UNKEY failed", "node", in.Node, "err", err)
			}
		}

		if result.WinnerChanged && result.Winner != nil {
			if err := sink.PushText(result.Winner.Name); err != nil {
				e.logger.Debug("pushing winner-change text failed", "node", in.Node, "err", err)
			}
		}

		if in.DTMF != nil {
			if ev, ok := in.DTMF.Detect(lin); ok && ev.Digit != 'm' && ev.Digit != 'u' {
				msg := fmt.Sprintf("DTMF %c %s", ev.Digit, ev.End.Sub(ev.Begin))
				if err := sink.PushText(msg); err != nil {
					e.logger.Debug("pushing DTMF text failed", "node", in.Node, "err", err)
				}
			}
		}

		if err := sink.PushAudio(lin); err != nil {
			e.logger.Warn("pushing outbound audio failed", "node", in.Node, "err", err)
		}
	}

	if in.Recorder != nil {
		winnerName := ""
		if result.Winner != nil {
			winnerName = result.Winner.Name
		}
		if err := in.Recorder.WriteFrame(winnerName, outbound); err != nil {
			e.logger.Warn("recording frame failed", "node", in.Node, "err", err)
		}
	}

	e.sendStreamStatus(in, outbound, statusLine, now)
}

// sendStreamStatus fans the voted frame and status line out to every
// configured stream subscriber as "timestamp, 160 mu-law bytes,
// winner/rssi text\0" (spec.md §4.3 point 6).
func (e *Engine) sendStreamStatus(in *Instance, outbound []byte, statusLine string, now time.Time) {
	if e.conn == nil || len(in.Streams) == 0 {
		return
	}

	pkt := make([]byte, 8+FrameSize+len(statusLine)+1)
	binary.BigEndian.PutUint64(pkt[:8], uint64(now.UnixNano()))
	copy(pkt[8:8+FrameSize], outbound)
	copy(pkt[8+FrameSize:], statusLine)

	for _, addr := range in.Streams {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			e.logger.Debug("bad stream subscriber address", "node", in.Node, "addr", addr, "err", err)
			continue
		}
		if _, err := e.conn.WriteToUDP(pkt, udpAddr); err != nil {
			e.logger.Debug("writing stream status failed", "node", in.Node, "addr", addr, "err", err)
		}
	}
}
