package voting

import (
	"math/rand"
	"testing"
)

// newVotingClient builds a client and primes the RSSI/audio window Vote's
// drain-advance will land on for the very next tick: Vote always advances
// DrainIndex by one frame before reading it, so the window to prime is one
// frame ahead of the client's current (pre-advance) DrainIndex.
func newVotingClient(node int, digest uint32, name string, rssi uint8) *Client {
	c := NewClient(node, name, "secret", FrameSize*4)
	c.Digest = digest
	writeRSSI(c, rssi)
	return c
}

func TestVoteHighestRSSIWins(t *testing.T) {
	in := NewInstance(1)
	a := newVotingClient(1, 1, "a", 50)
	b := newVotingClient(1, 2, "b", 90)
	in.Clients = map[uint32]*Client{a.Digest: a, b.Digest: b}

	rnd := rand.New(rand.NewSource(1))
	result := in.Vote(rnd)

	if result.Winner != b {
		t.Fatalf("winner = %v, want b", result.Winner)
	}
	if !result.WinnerChanged {
		t.Fatal("expected WinnerChanged on first vote")
	}
}

func TestVoteNoCandidatesProducesSilence(t *testing.T) {
	in := NewInstance(1)
	rnd := rand.New(rand.NewSource(1))
	result := in.Vote(rnd)
	if result.Winner != nil {
		t.Fatalf("winner = %v, want nil", result.Winner)
	}
	for i, b := range result.Outbound {
		if b != 0xFF {
			t.Fatalf("Outbound[%d] = %#x, want silence 0xFF", i, b)
		}
	}
}

func TestVotePriorityDominatesRSSI(t *testing.T) {
	in := NewInstance(1)
	low := newVotingClient(1, 1, "low-prio-loud", 100)
	high := newVotingClient(1, 2, "high-prio-quiet", 10)
	high.Prio = 5

	in.Clients = map[uint32]*Client{low.Digest: low, high.Digest: high}
	rnd := rand.New(rand.NewSource(1))
	result := in.Vote(rnd)

	if result.Winner != high {
		t.Fatalf("winner = %v, want high-priority client despite lower RSSI", result.Winner)
	}
}

func TestVoteMutedClientExcluded(t *testing.T) {
	in := NewInstance(1)
	muted := newVotingClient(1, 1, "muted", 255)
	muted.PrioOverride = PrioMuted
	quiet := newVotingClient(1, 2, "quiet", 10)

	in.Clients = map[uint32]*Client{muted.Digest: muted, quiet.Digest: quiet}
	rnd := rand.New(rand.NewSource(1))
	result := in.Vote(rnd)

	if result.Winner != quiet {
		t.Fatalf("winner = %v, want quiet (muted client must be excluded)", result.Winner)
	}
}

func TestVoteMixClientExcludedFromVoting(t *testing.T) {
	in := NewInstance(1)
	mix := newVotingClient(1, 1, "mixer", 255)
	mix.Mix = true
	voted := newVotingClient(1, 2, "voted", 10)

	in.Clients = map[uint32]*Client{mix.Digest: mix, voted.Digest: voted}
	rnd := rand.New(rand.NewSource(1))
	result := in.Vote(rnd)

	if result.Winner != voted {
		t.Fatalf("winner = %v, want the only voted-mode client", result.Winner)
	}
}

func TestVoteThresholdStickiness(t *testing.T) {
	in := NewInstance(1)
	in.Thresholds = []ThresholdEntry{{RSSI: 40, Count: 2, Linger: 1}}

	a := newVotingClient(1, 1, "a", 90)
	b := newVotingClient(1, 2, "b", 50)
	in.Clients = map[uint32]*Client{a.Digest: a, b.Digest: b}
	rnd := rand.New(rand.NewSource(1))

	result := in.Vote(rnd)
	if result.Winner != a {
		t.Fatalf("first vote winner = %v, want a", result.Winner)
	}

	// a's RSSI drops below b's but stays above the threshold row's RSSI;
	// the sticky-winner rule should keep a as winner.
	writeRSSI(a, 45)
	writeRSSI(b, 80)
	result = in.Vote(rnd)
	if result.Winner != a {
		t.Fatalf("sticky vote winner = %v, want a (threshold should hold)", result.Winner)
	}
}

func TestVoteTestModeCycleRotatesAmongTiedTop(t *testing.T) {
	in := NewInstance(1)
	in.Test = TestModeCycle
	in.TestCycle = 0 // switch every tick

	a := newVotingClient(1, 1, "a", 80)
	b := newVotingClient(1, 2, "b", 80)
	in.Clients = map[uint32]*Client{a.Digest: a, b.Digest: b}
	rnd := rand.New(rand.NewSource(1))

	first := in.Vote(rnd).Winner
	writeRSSI(a, 80)
	writeRSSI(b, 80)
	second := in.Vote(rnd).Winner

	if first == second {
		t.Fatalf("expected test-mode cycle to rotate winner across ticks, got %v both times", first)
	}
}

// writeRSSI re-primes a client's drain window with a fresh RSSI value ahead
// of the next Vote pass (mirrors inbound audio landing before the tick):
// the window one frame past the client's current DrainIndex, since Vote
// advances DrainIndex before reading it.
func writeRSSI(c *Client, rssi uint8) {
	audio := make([]byte, FrameSize)
	for i := range audio {
		audio[i] = byte(rssi)
	}
	index := (c.DrainIndex + FrameSize) % c.BufLen
	c.WriteFrame(index, audio, rssi)
}
