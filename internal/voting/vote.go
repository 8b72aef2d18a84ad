package voting

import (
	"math/rand"
	"sort"
)

// VoteResult is the outcome of one instance's 20ms voting pass.
type VoteResult struct {
	Winner        *Client
	WinnerChanged bool
	Outbound      []byte // 160 bytes mu-law, silence if no winner
}

// runDrainAdvance advances every client's drain cursor by one frame ahead
// of the vote pass, mirroring the original driver's per-tick
// incr_drainindex sweep over the full client list.
func (in *Instance) runDrainAdvance() {
	for _, c := range in.Clients {
		c.IncrDrainIndex()
	}
}

// voteCandidates returns this instance's voted-mode (non-mix), non-muted
// clients in a deterministic order (sorted by digest), so repeated vote
// passes over a frozen RSSI snapshot are reproducible (spec.md §8 "Voting
// determinism").
func (in *Instance) voteCandidates() []*Client {
	var out []*Client
	for _, c := range in.Clients {
		if c.Mix {
			continue
		}
		if c.EffectivePrio() == PrioMuted {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest < out[j].Digest })
	return out
}

func bestByPriority(candidates []*Client) (maxPrio int, tied []*Client) {
	maxPrio = candidates[0].EffectivePrio()
	for _, c := range candidates[1:] {
		if p := c.EffectivePrio(); p > maxPrio {
			maxPrio = p
		}
	}
	for _, c := range candidates {
		if c.EffectivePrio() == maxPrio {
			tied = append(tied, c)
		}
	}
	return maxPrio, tied
}

func topByRSSI(tied []*Client) []*Client {
	maxRSSI := tied[0].LastRSSI
	for _, c := range tied[1:] {
		if c.LastRSSI > maxRSSI {
			maxRSSI = c.LastRSSI
		}
	}
	var top []*Client
	for _, c := range tied {
		if c.LastRSSI == maxRSSI {
			top = append(top, c)
		}
	}
	return top
}

// pickFromTop resolves ties among the top-RSSI candidates according to the
// instance's test mode (spec.md §4.3 point 5); off deterministically picks
// the first (lowest digest) candidate.
func (in *Instance) pickFromTop(top []*Client, rnd *rand.Rand) *Client {
	if len(top) == 1 || in.Test == TestModeOff {
		return top[0]
	}
	switch in.Test {
	case TestModeRandom:
		return top[rnd.Intn(len(top))]
	case TestModeCycle:
		in.testCounter++
		if in.testCounter > in.TestCycle {
			in.testCounter = 0
			in.testIndex = (in.testIndex + 1) % len(top)
		}
		if in.testIndex >= len(top) {
			in.testIndex = 0
		}
		return top[in.testIndex]
	}
	return top[0]
}

// applyThreshold evaluates the sticky-winner hysteresis table against the
// previous winner's current RSSI. It returns true when the previous winner
// should keep winning outright; when the table no longer matches, it arms
// in.lingerCount from the last-matched entry's Linger and returns false —
// the caller still honors a positive lingerCount as a separate grace period
// (spec.md §4.3 point 4, §8 scenario 2).
func (in *Instance) applyThreshold() bool {
	prev := in.lastWinner
	if prev == nil || len(in.Thresholds) == 0 {
		return false
	}
	matched := 0
	for i, th := range in.Thresholds {
		if prev.LastRSSI >= th.RSSI {
			matched = i + 1
		}
	}
	if matched == 0 {
		if in.threshold > 0 {
			armed := in.Thresholds[in.threshold-1]
			in.lingerCount = armed.Linger
			in.threshold = 0
			in.threshCount = 0
		}
		return false
	}
	if matched != in.threshold {
		in.threshold = matched
		in.threshCount = 0
	} else {
		in.threshCount++
	}
	th := in.Thresholds[matched-1]
	if th.Count > 0 && in.threshCount > th.Count {
		in.lingerCount = th.Linger
		in.threshold = 0
		in.threshCount = 0
		return false
	}
	return true
}

// Vote runs one 20ms voting pass: advance drain cursors, compute each
// voted candidate's mean RSSI (clearing its RSSI window immediately after,
// per invariant 5), select a winner with priority dominance and
// threshold/linger stickiness, and drain the winner's audio into the
// outbound frame. Caller holds State's lock.
func (in *Instance) Vote(rnd *rand.Rand) VoteResult {
	in.runDrainAdvance()

	candidates := in.voteCandidates()
	for _, c := range candidates {
		c.LastRSSI = c.MeanRSSI()
	}

	out := make([]byte, FrameSize)
	for i := range out {
		out[i] = 0xFF
	}

	if len(candidates) == 0 {
		changed := in.lastWinner != nil
		in.lastWinner = nil
		in.threshold = 0
		in.threshCount = 0
		in.lingerCount = 0
		return VoteResult{Outbound: out, WinnerChanged: changed}
	}

	maxPrio, tied := bestByPriority(candidates)
	top := topByRSSI(tied)
	chosen := in.pickFromTop(top, rnd)

	if in.lastWinner != nil && maxPrio <= in.lastWinnerPrio {
		if in.applyThreshold() {
			chosen = in.lastWinner
		}
	}
	if chosen != in.lastWinner && in.lingerCount > 0 {
		chosen = in.lastWinner
		in.lingerCount--
	}

	changed := chosen != in.lastWinner
	if changed {
		in.threshold = 0
		in.threshCount = 0
	}
	in.lastWinner = chosen
	in.lastWinnerPrio = chosen.EffectivePrio()

	chosen.DrainedAudio(out)

	for _, c := range candidates {
		c.ClearDrainWindow()
	}

	return VoteResult{Winner: chosen, WinnerChanged: changed, Outbound: out}
}
