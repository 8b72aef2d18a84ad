package codec

import "testing"

func TestULawRoundTripNearLinear(t *testing.T) {
	tests := []struct {
		name   string
		sample int16
	}{
		{"zero", 0},
		{"small positive", 120},
		{"small negative", -120},
		{"near full scale positive", 32000},
		{"near full scale negative", -32000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := LinearToULaw[uint16(tc.sample)]
			decoded := ULawToLinear[encoded]
			diff := int(decoded) - int(tc.sample)
			if diff < 0 {
				diff = -diff
			}
			// mu-law is lossy; a few percent of full scale is expected.
			if diff > 1200 {
				t.Fatalf("round trip drifted too far: sample=%d decoded=%d diff=%d", tc.sample, decoded, diff)
			}
		})
	}
}

func TestEncodeFrameDecodeFrameSizes(t *testing.T) {
	lin := make([]int16, FrameSize)
	for i := range lin {
		lin[i] = int16(i * 100)
	}
	ulaw := make([]byte, FrameSize)
	EncodeFrame(lin, ulaw)

	out := make([]int16, FrameSize)
	DecodeFrame(ulaw, out)
	if len(out) != FrameSize {
		t.Fatalf("decoded frame length = %d, want %d", len(out), FrameSize)
	}
}

func TestADPCMRoundTripFrameSize(t *testing.T) {
	lin := make([]int16, ADPCMSamples)
	for i := range lin {
		// a gentle triangle wave; ADPCM tracks slowly-varying signals well.
		v := i % 400
		if v >= 200 {
			v = 400 - v
		}
		lin[i] = int16(v * 50)
	}
	frame := make([]byte, ADPCMFrameSize)
	EncodeADPCM(lin, frame)

	out := make([]int16, ADPCMSamples)
	DecodeADPCM(frame, out)

	var maxDiff int
	for i := range lin {
		d := int(out[i]) - int(lin[i])
		if d < 0 {
			d = -d
		}
		if d > maxDiff {
			maxDiff = d
		}
	}
	if maxDiff > 4000 {
		t.Fatalf("ADPCM round trip drifted too far: maxDiff=%d", maxDiff)
	}
}

func TestADPCMIndexStaysInBounds(t *testing.T) {
	lin := make([]int16, ADPCMSamples)
	for i := range lin {
		if i%2 == 0 {
			lin[i] = 32767
		} else {
			lin[i] = -32768
		}
	}
	frame := make([]byte, ADPCMFrameSize)
	EncodeADPCM(lin, frame)
	out := make([]int16, ADPCMSamples)
	DecodeADPCM(frame, out) // must not panic on an out-of-range step index
}

func TestNULawUpsamplesByTwo(t *testing.T) {
	frame := make([]byte, NULawFrameSize)
	for i := range frame {
		frame[i] = byte(i)
	}
	out := make([]int16, NULawSamples)
	DecodeNULaw(frame, out)
	for i := 0; i < NULawFrameSize; i++ {
		if out[2*i] != out[2*i+1] {
			t.Fatalf("sample %d not duplicated: %d != %d", i, out[2*i], out[2*i+1])
		}
	}
}
