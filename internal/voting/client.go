// Package voting implements the UDP voting engine: protocol state machine,
// per-client jitter buffers, RSSI-based winner selection, mix/voted output,
// the primary/secondary proxy, and the transmit scheduler.
package voting

import (
	"time"

	"github.com/golang/geo/s2"
)

// FrameSize is the number of mu-law bytes (and, equivalently, linear
// samples) in one 20ms frame at the engine's 8kHz timebase.
const FrameSize = 160

// DefaultBufLen is the default per-client ring buffer length in bytes,
// enough for 480ms of audio at 8kHz.
const DefaultBufLen = 3840

// PrioOverride sentinel values.
const (
	PrioInactive = -2 // no override configured
	PrioMuted    = -1 // excluded from voting entirely
)

// Client is one remote radio endpoint bound to exactly one Instance.
type Client struct {
	Digest uint32
	Name   string
	Node   int

	IP   [4]byte
	Port int

	// ProxyIP/ProxyPort are set when this client is reached indirectly,
	// through a secondary server acting as a relay to this (primary) node.
	ProxyIP   [4]byte
	ProxyPort int
	IsProxied bool

	Password string

	ToTransmit   bool
	IsMaster     bool
	DoADPCM      bool
	DoNULaw      bool
	Mix          bool
	NoDeEmphasis bool
	NoPLFilter   bool
	TXLockout    bool

	Prio         int
	PrioOverride int // PrioInactive, PrioMuted, or >=0

	HeardFrom bool
	CurMaster bool

	// Ring buffers: parallel audio (mu-law bytes) and RSSI (0-255) slabs.
	Audio []byte
	RSSI  []byte
	BufLen int

	DrainIndex       int
	DrainIndex40ms   int
	Drain40ms        bool

	TXSeqno       uint32
	RXSeqno       uint32
	RXSeqno40ms   uint32
	RXSeq40msTog  bool

	LastHeardTime     time.Time
	LastSentTime      time.Time
	LastGPSTime       time.Time
	LastMasterGPSTime time.Time

	GPSID  string
	GPSFix s2.LatLng
	HasGPSFix bool

	Ping PingState

	// LastRSSI is the mean RSSI over the last drained window, computed once
	// per vote tick and consumed by the voting/mix passes.
	LastRSSI uint8

	// txPair holds the first half of a pending ADPCM/NULAW 40ms TX pair;
	// the second tick completes and sends it (spec.md §4.5 point 3).
	txPair      []byte
	txPairValid bool
}

// PingState tracks the per-client ping subprotocol.
type PingState struct {
	Seqno        uint32
	LastSeqno    uint32
	TXTime       time.Time
	LastRXTime   time.Time
	Requested    int
	Sent         int
	Received     int
	OutOfSeq     int
	BestMs       int
	WorstMs      int
	TotalMs      int
	Aborted      bool

	sessionStartNs int64
}

// NewClient allocates a client with ring buffers sized to buflen, rounded
// down to a multiple of FrameSize, with a minimum of two frames.
func NewClient(node int, name, password string, buflen int) *Client {
	buflen = roundDownToFrame(buflen)
	return &Client{
		Node:         node,
		Name:         name,
		Password:     password,
		PrioOverride: PrioInactive,
		Audio:        newSilentBuf(buflen),
		RSSI:         make([]byte, buflen),
		BufLen:       buflen,
	}
}

func roundDownToFrame(n int) int {
	if n < FrameSize*2 {
		return FrameSize * 2
	}
	return n - (n % FrameSize)
}

func newSilentBuf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF // silent mu-law
	}
	return b
}

// Resize replaces the ring buffers in place with new ones of length buflen,
// resetting drain indices (matching the "resize, not free" reload rule).
func (c *Client) Resize(buflen int) {
	buflen = roundDownToFrame(buflen)
	c.Audio = newSilentBuf(buflen)
	c.RSSI = make([]byte, buflen)
	c.BufLen = buflen
	c.DrainIndex = 0
	c.DrainIndex40ms = 0
}

// BufferDelay is the "headroom" offset used by both index formulas:
// buflen minus two frames of slack at the tail.
func (c *Client) BufferDelay() int {
	return c.BufLen - 2*FrameSize
}

// WriteFrame writes one FrameSize block of decoded audio and a matching
// RSSI byte into the ring at index, wrapping modulo BufLen. rssi==0 writes
// silence instead of the payload per the carrier-absent convention.
func (c *Client) WriteFrame(index int, audio []byte, rssi byte) {
	for i := 0; i < FrameSize; i++ {
		pos := (index + i) % c.BufLen
		if rssi == 0 {
			c.Audio[pos] = 0xFF
		} else {
			c.Audio[pos] = audio[i]
		}
		c.RSSI[pos] = rssi
	}
}

// MeanRSSI returns the mean of FrameSize RSSI samples starting at
// DrainIndex, wrapping modulo BufLen.
func (c *Client) MeanRSSI() uint8 {
	var sum int
	for i := 0; i < FrameSize; i++ {
		pos := (c.DrainIndex + i) % c.BufLen
		sum += int(c.RSSI[pos])
	}
	return uint8(sum / FrameSize)
}

// ClearDrainWindow zeroes the RSSI window and silences the audio window at
// DrainIndex, matching the post-vote "drained, so fresh" rule (spec
// invariant 5).
func (c *Client) ClearDrainWindow() {
	for i := 0; i < FrameSize; i++ {
		pos := (c.DrainIndex + i) % c.BufLen
		c.RSSI[pos] = 0
		c.Audio[pos] = 0xFF
	}
}

// DrainedAudio copies the FrameSize audio window at DrainIndex into out,
// wrapping modulo BufLen.
func (c *Client) DrainedAudio(out []byte) {
	for i := 0; i < FrameSize; i++ {
		pos := (c.DrainIndex + i) % c.BufLen
		out[i] = c.Audio[pos]
	}
}

// IncrDrainIndex advances the drain cursor by one frame, toggling the 40ms
// pairing state used by ADPCM/NULAW clients (mirrors the original driver's
// incr_drainindex: the 40ms snapshot only updates on the "even" tick).
func (c *Client) IncrDrainIndex() {
	if !c.Drain40ms {
		c.DrainIndex40ms = c.DrainIndex
		c.RXSeqno40ms = c.RXSeqno
	}
	c.DrainIndex = (c.DrainIndex + FrameSize) % c.BufLen
	c.Drain40ms = !c.Drain40ms
}

// EffectivePrio returns the priority the voting/mix passes should use:
// PrioOverride when armed, otherwise the client's configured static Prio.
func (c *Client) EffectivePrio() int {
	if c.PrioOverride != PrioInactive {
		return c.PrioOverride
	}
	return c.Prio
}

// PuckOffset is the coarse per-client clock correction derived from the gap
// between this client's last GPS fix time and the master's, used only when
// "puckit" compensation is enabled. Computed in signed 64-bit nanoseconds to
// avoid wraparound, per spec design notes.
func (c *Client) PuckOffset(masterGPSTime time.Time) int64 {
	if c.LastGPSTime.IsZero() || masterGPSTime.IsZero() {
		return 0
	}
	return c.LastGPSTime.UnixNano() - masterGPSTime.UnixNano()
}
