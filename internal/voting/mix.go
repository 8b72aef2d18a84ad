package voting

import (
	"sort"

	"github.com/radiovoter/voter/internal/codec"
)

// mixClients returns this instance's mix-mode, non-muted clients in
// deterministic (digest) order.
func (in *Instance) mixClients() []*Client {
	var out []*Client
	for _, c := range in.Clients {
		if !c.Mix {
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

// MixInto sums every eligible mix-mode client's drained audio window into
// voted, a 160-sample mu-law frame already produced by Vote. When any mix
// client has a positive effective priority (static or override), only
// clients at that same maximum priority participate, and each participating
// client with live carrier (nonzero RSSI) replaces rather than adds to the
// running frame, so the last such client in digest order is what remains —
// spec.md §4.3's mix path, grounded on the original driver's
// voter_mix_and_send two-phase drain-then-sum loop.
func (in *Instance) MixInto(voted []byte) []byte {
	clients := in.mixClients()
	if len(clients) == 0 {
		return voted
	}

	maxPrio := 0
	for _, c := range clients {
		if p := c.EffectivePrio(); p > maxPrio {
			maxPrio = p
		}
	}

	sum := make([]int16, FrameSize)
	codec.DecodeFrame(voted, sum)

	tmp := make([]byte, FrameSize)
	lin := make([]int16, FrameSize)

	for _, c := range clients {
		if maxPrio > 0 && c.EffectivePrio() < maxPrio {
			continue
		}
		c.LastRSSI = c.MeanRSSI()
		c.DrainedAudio(tmp)
		c.ClearDrainWindow()
		if c.LastRSSI == 0 {
			// spec.md §4.3: only clients with nonzero last_rssi contribute.
			continue
		}
		codec.DecodeFrame(tmp, lin)

		replace := maxPrio > 0
		for i := range sum {
			if replace {
				sum[i] = lin[i]
			} else {
				s := int32(sum[i]) + int32(lin[i])
				if s > 32767 {
					s = 32767
				} else if s < -32767 {
					s = -32767
				}
				sum[i] = int16(s)
			}
		}
	}

	out := make([]byte, FrameSize)
	codec.EncodeFrame(sum, out)
	return out
}
