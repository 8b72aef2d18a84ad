package voting

import "math"

// CTCSSGenerator mixes a continuous sub-audible tone into outbound TX
// audio, implementing hostchan.ToneGenerator. Unlike a one-shot beep, the
// tone runs continuously while a TX worker is keyed, so the phase
// accumulator carries across ticks rather than resetting per call (the
// generation math itself is the same sine synthesis the media mixer uses
// for its injected beep).
type CTCSSGenerator struct {
	phase float64
}

// Mix adds one tick's worth of CTCSS tone into frame in place, at levelDB
// relative to full scale. freqHz is typically 67-254 Hz (standard CTCSS
// tone set); levelDB is negative (attenuated relative to voice).
func (g *CTCSSGenerator) Mix(frame []int16, freqHz, levelDB float64) {
	if freqHz <= 0 {
		return
	}
	const sampleRate = 8000
	peak := 32767.0 * math.Pow(10, levelDB/20)
	step := 2 * math.Pi * freqHz / sampleRate

	for i := range frame {
		tone := int32(peak * math.Sin(g.phase))
		g.phase += step
		if g.phase > 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
		sum := int32(frame[i]) + tone
		frame[i] = clampInt16(sum)
	}
}

// Reset zeroes the phase accumulator, e.g. when CTCSS is disabled and
// later re-enabled.
func (g *CTCSSGenerator) Reset() {
	g.phase = 0
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
