package codec

import "encoding/binary"

// ADPCMFrameSize is the wire size of one 40ms ADPCM frame: a 2-byte
// predictor, a 1-byte step index, and 160 bytes of packed 4-bit nibbles
// encoding 320 linear samples.
const ADPCMFrameSize = 163

// ADPCMSamples is the sample count one ADPCM frame decodes to (two 20ms
// frames' worth, since ADPCM clients are drained in pairs).
const ADPCMSamples = 2 * FrameSize

var imaIndexTable = [16]int{-1, -1, -1, -1, 2, 4, 6, 8, -1, -1, -1, -1, 2, 4, 6, 8}

var imaStepTable = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17, 19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118, 130, 143, 157, 173, 190, 209, 230,
	253, 279, 307, 337, 371, 408, 449, 494, 544, 598, 658, 724, 796, 876, 963,
	1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066, 2272, 2499, 2749, 3024,
	3327, 3660, 4026, 4428, 4871, 5358, 5894, 6484, 7132, 7845, 8630, 9493,
	10442, 11487, 12635, 13899, 15289, 16818, 18500, 20350, 22385, 24623,
	27086, 29794, 32767,
}

// ADPCMState is the IMA ADPCM codec's running predictor state.
type ADPCMState struct {
	Predictor int16
	Index     int
}

// DecodeADPCM decodes one 163-byte ADPCM frame into 320 linear PCM samples.
// The frame's embedded predictor/index seed a fresh decode each call, which
// matches the original driver's per-packet (not per-client) ADPCM state: a
// client's encoder and the engine's decoder resync every frame.
func DecodeADPCM(frame []byte, out []int16) {
	st := ADPCMState{
		Predictor: int16(binary.BigEndian.Uint16(frame[0:2])),
		Index:     int(frame[2]),
	}
	body := frame[3:]
	for i := 0; i < ADPCMSamples; i++ {
		var nibble byte
		if i%2 == 0 {
			nibble = body[i/2] & 0x0F
		} else {
			nibble = (body[i/2] >> 4) & 0x0F
		}
		out[i] = st.decodeNibble(nibble)
	}
}

// EncodeADPCM encodes 320 linear PCM samples into a 163-byte ADPCM frame,
// seeding the predictor/index fresh (zero) each call.
func EncodeADPCM(lin []int16, out []byte) {
	st := ADPCMState{}
	binary.BigEndian.PutUint16(out[0:2], uint16(st.Predictor))
	out[2] = byte(st.Index)
	body := out[3:]
	for i := 0; i < ADPCMSamples; i++ {
		nibble := st.encodeNibble(lin[i])
		if i%2 == 0 {
			body[i/2] = nibble
		} else {
			body[i/2] |= nibble << 4
		}
	}
}

func (st *ADPCMState) decodeNibble(nibble byte) int16 {
	step := imaStepTable[st.Index]
	diff := step >> 3
	if nibble&1 != 0 {
		diff += step >> 2
	}
	if nibble&2 != 0 {
		diff += step >> 1
	}
	if nibble&4 != 0 {
		diff += step
	}
	if nibble&8 != 0 {
		diff = -diff
	}

	predictor := int(st.Predictor) + diff
	predictor = clampInt16(predictor)
	st.Predictor = int16(predictor)

	st.Index += imaIndexTable[nibble]
	st.Index = clampIndex(st.Index)

	return st.Predictor
}

func (st *ADPCMState) encodeNibble(sample int16) byte {
	step := imaStepTable[st.Index]
	diff := int(sample) - int(st.Predictor)

	nibble := byte(0)
	if diff < 0 {
		nibble = 8
		diff = -diff
	}

	magnitude := step
	d := diff
	if d >= magnitude {
		nibble |= 4
		d -= magnitude
	}
	magnitude >>= 1
	if d >= magnitude {
		nibble |= 2
		d -= magnitude
	}
	magnitude >>= 1
	if d >= magnitude {
		nibble |= 1
	}

	reconstructed := st.decodeNibble(nibble)
	_ = reconstructed
	return nibble
}

func clampInt16(v int) int {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

func clampIndex(v int) int {
	if v < 0 {
		return 0
	}
	if v > 88 {
		return 88
	}
	return v
}
