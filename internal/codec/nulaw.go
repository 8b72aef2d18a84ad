package codec

// NULawFrameSize is the wire size of a half-rate ("narrow") mu-law frame:
// 160 bytes sampled at 4kHz, representing 40ms of audio.
const NULawFrameSize = FrameSize

// NULawSamples is the sample count one narrow-mu-law frame decodes to after
// 2x upsampling to the engine's 8kHz clock.
const NULawSamples = 2 * FrameSize

// DecodeNULaw decodes a 160-byte half-rate mu-law frame into 320 linear PCM
// samples at 8kHz by halving each decoded sample's amplitude (narrow mu-law
// clients transmit at reduced gain to fit their RF audio chain) and
// duplicating it to the adjacent output slot. The original driver runs this
// duplicated pair through an external low-pass interpolation filter
// (lpass4); that stage is one of the DSP filter chains specification §9
// treats as an external collaborator, so only the duplication is done here.
func DecodeNULaw(frame []byte, out []int16) {
	for i, b := range frame {
		s := ULawToLinear[b] / 2
		out[2*i] = s
		out[2*i+1] = s
	}
}

// EncodeNULaw encodes 320 linear PCM samples into a 160-byte half-rate
// mu-law frame by downsampling 2:1 (taking every other sample) and doubling
// amplitude to invert DecodeNULaw's halving.
func EncodeNULaw(lin []int16, out []byte) {
	for i := 0; i < NULawFrameSize; i++ {
		s := int32(lin[2*i]) * 2
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		out[i] = LinearToULaw[uint16(int16(s))]
	}
}
