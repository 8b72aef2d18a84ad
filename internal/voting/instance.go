package voting

import (
	"sync"
	"time"

	"github.com/radiovoter/voter/internal/hostchan"
)

// TestMode selects how the voting pass behaves when artificially forcing a
// choice among tied top-RSSI candidates (spec.md §4.3 point 5).
type TestMode int

const (
	TestModeOff TestMode = iota
	TestModeRandom
	TestModeCycle
)

// ThresholdEntry is one row of the sticky-winner hysteresis table.
type ThresholdEntry struct {
	RSSI   uint8
	Count  int
	Linger int
}

// TurnOffType selects how TX release is signaled to clients.
type TurnOffType int

const (
	TurnOffNone TurnOffType = iota
	TurnOffPhase
	TurnOffNoTone
)

// PrimaryConfig is the upstream primary server a secondary instance proxies
// client traffic through.
type PrimaryConfig struct {
	Addr     string
	Password string
}

// Instance is one logical repeater node.
type Instance struct {
	Node int

	Sink hostchan.Sink
	Tone hostchan.ToneGenerator
	DTMF hostchan.DTMFDetector

	mu         sync.Mutex
	txQueue    [][]int16
	pagerQueue [][]int16

	// Selection state carried across vote ticks.
	lastWinner     *Client
	lastWinnerPrio int
	threshold      int // 1-based index into Thresholds, 0 = none armed
	threshCount    int
	lingerCount    int
	rxKey          bool
	lastRXTime     time.Time

	LingerSecs int
	PLFilter   bool
	DeEmphasis bool
	Duplex     bool
	MixMinus   bool

	CTCSSFreq  float64
	CTCSSLevel float64
	TurnOff    TurnOffType

	Thresholds []ThresholdEntry

	Primary   *PrimaryConfig
	IsPrimary bool

	Streams []string // ip:port status-datagram subscribers
	GainDB  float64

	Test        TestMode
	TestCycle   int // ticks between cycle-mode switches (voter_test - 1)
	testCounter int
	testIndex   int

	Recorder Recorder

	Clients map[uint32]*Client // keyed by digest, authenticated clients only
	Roster  []*Client          // every configured client, authenticated or not

	displaySubs []chan DisplayFrame // display(node) control-surface subscribers
}

// NewInstance allocates an instance with no clients configured.
func NewInstance(node int) *Instance {
	return &Instance{
		Node:       node,
		Clients:    make(map[uint32]*Client),
		LingerSecs: 10,
	}
}

// AddToRoster registers a configured-but-not-yet-authenticated client.
func (in *Instance) AddToRoster(c *Client) {
	in.Roster = append(in.Roster, c)
}

// FindRosterByIP returns the first unauthenticated (Digest==0) roster entry
// whose static IP matches ip, or nil.
func (in *Instance) FindRosterByIP(ip [4]byte) *Client {
	for _, c := range in.Roster {
		if c.Digest == 0 && c.IP == ip {
			return c
		}
	}
	return nil
}

// EnqueueTX appends a frame to the outbound audio queue, dropping the
// oldest frame if depth exceeds 3 (spec.md §4.5 point 1: drain when depth
// exceeds 3 or the channel is idle — excess enqueues are the producer-side
// mirror of that same backpressure rule).
func (in *Instance) EnqueueTX(frame []int16) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.txQueue = append(in.txQueue, frame)
	const maxQueue = 3
	if len(in.txQueue) > maxQueue {
		in.txQueue = in.txQueue[len(in.txQueue)-maxQueue:]
	}
}

// EnqueuePage appends a POCSAG-style page frame to the pager queue. Paging
// synthesis itself lives outside the core (spec.md §1); this queue only
// carries already-rendered frames through to the transmitter.
func (in *Instance) EnqueuePage(frame []int16) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pagerQueue = append(in.pagerQueue, frame)
}

// dequeueTX pops the oldest queued TX frame, preferring the pager queue so
// pages are not starved by continuous voted audio.
func (in *Instance) dequeueTX() ([]int16, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.pagerQueue) > 0 {
		f := in.pagerQueue[0]
		in.pagerQueue = in.pagerQueue[1:]
		return f, true
	}
	if len(in.txQueue) > 0 {
		f := in.txQueue[0]
		in.txQueue = in.txQueue[1:]
		return f, true
	}
	return nil, false
}

func (in *Instance) queueDepth() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.txQueue) + len(in.pagerQueue)
}

// FlushQueues drops all queued outbound audio, used on master-loss recovery
// (spec.md §7 "Timing loss").
func (in *Instance) FlushQueues() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.txQueue = nil
	in.pagerQueue = nil
}
