package voting

import (
	"testing"

	"github.com/radiovoter/voter/internal/codec"
)

func mixFrame(value byte) []byte {
	out := make([]byte, FrameSize)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestMixIntoSumsEligibleClients(t *testing.T) {
	in := NewInstance(1)
	a := newVotingClient(1, 1, "a", 50)
	a.Mix = true
	b := newVotingClient(1, 2, "b", 60)
	b.Mix = true
	in.Clients = map[uint32]*Client{a.Digest: a, b.Digest: b}

	voted := mixFrame(0xFF) // silence baseline
	in.runDrainAdvance()    // Vote advances every drain cursor before MixInto runs
	out := in.MixInto(voted)

	lin := make([]int16, FrameSize)
	codec.DecodeFrame(out, lin)

	// Both mix clients wrote audio == their RSSI value, so the mixed sum
	// should be the linear decode of their respective uniform byte values
	// added together (allowing for mu-law rounding).
	wantA := make([]int16, FrameSize)
	wantB := make([]int16, FrameSize)
	codec.DecodeFrame(mixFrame(50), wantA)
	codec.DecodeFrame(mixFrame(60), wantB)
	for i := range lin {
		want := int32(wantA[i]) + int32(wantB[i])
		if want > 32767 {
			want = 32767
		} else if want < -32767 {
			want = -32767
		}
		// The sum is re-encoded to mu-law, so compare against its quantized value.
		wantQ := codec.ULawToLinear[codec.LinearToULaw[uint16(int16(want))]]
		if lin[i] != wantQ {
			t.Fatalf("sample %d = %d, want %d", i, lin[i], wantQ)
		}
	}
}

func TestMixIntoNoEligibleClientsReturnsVotedUnchanged(t *testing.T) {
	in := NewInstance(1)
	voted := mixFrame(0x80)
	out := in.MixInto(voted)
	for i := range out {
		if out[i] != voted[i] {
			t.Fatalf("byte %d = %#x, want unchanged %#x", i, out[i], voted[i])
		}
	}
}

func TestMixIntoPriorityOverrideReplacesInsteadOfSumming(t *testing.T) {
	in := NewInstance(1)
	low := newVotingClient(1, 1, "low", 10)
	low.Mix = true

	high := newVotingClient(1, 2, "high", 10)
	high.Mix = true
	high.PrioOverride = 5

	in.Clients = map[uint32]*Client{low.Digest: low, high.Digest: high}

	voted := mixFrame(0x80)
	in.runDrainAdvance() // Vote advances every drain cursor before MixInto runs
	out := in.MixInto(voted)

	lin := make([]int16, FrameSize)
	codec.DecodeFrame(out, lin)
	want := make([]int16, FrameSize)
	codec.DecodeFrame(mixFrame(10), want)

	for i := range lin {
		if lin[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d (only high-priority client's audio, not summed with low)", i, lin[i], want[i])
		}
	}
}

func TestMixIntoMutedClientExcluded(t *testing.T) {
	in := NewInstance(1)
	muted := newVotingClient(1, 1, "muted", 200)
	muted.Mix = true
	muted.PrioOverride = PrioMuted

	in.Clients = map[uint32]*Client{muted.Digest: muted}
	voted := mixFrame(0xFF)
	out := in.MixInto(voted)
	for i := range out {
		if out[i] != voted[i] {
			t.Fatalf("byte %d = %#x, want unchanged silence (muted client excluded)", i, out[i])
		}
	}
}
