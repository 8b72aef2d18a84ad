// Package wire implements the fixed binary packet header and payload-type
// constants shared by every datagram the voting engine sends or receives.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Payload type identifies how the bytes following the header are interpreted.
type Payload uint16

const (
	PayloadNone  Payload = 0
	PayloadULaw  Payload = 1
	PayloadGPS   Payload = 2
	PayloadADPCM Payload = 3
	PayloadNULaw Payload = 4
	PayloadPing  Payload = 5
	PayloadProxy Payload = 0xF000
)

func (p Payload) String() string {
	switch p {
	case PayloadNone:
		return "none"
	case PayloadULaw:
		return "ulaw"
	case PayloadGPS:
		return "gps"
	case PayloadADPCM:
		return "adpcm"
	case PayloadNULaw:
		return "nulaw"
	case PayloadPing:
		return "ping"
	case PayloadProxy:
		return "proxy"
	default:
		return fmt.Sprintf("payload(%d)", uint16(p))
	}
}

// ChallengeSize is the fixed width of the NUL-padded ASCII challenge field.
const ChallengeSize = 10

// HeaderSize is the on-wire size of Header in bytes.
const HeaderSize = 4 + 4 + ChallengeSize + 4 + 2

// VTime is the protocol's timebase: seconds plus nanoseconds, except that on
// mix-mode clients the nanosecond field is repurposed to carry a 20ms frame
// sequence number rather than true nanoseconds (see Client.Mix in the
// voting package).
type VTime struct {
	Sec  uint32
	Nsec uint32
}

// Header is the fixed preamble present on every voter datagram.
type Header struct {
	Time        VTime
	Challenge   [ChallengeSize]byte
	Digest      uint32
	PayloadType Payload
}

// Encode writes h to dst in network byte order. dst must be at least
// HeaderSize bytes.
func (h Header) Encode(dst []byte) {
	_ = dst[HeaderSize-1]
	binary.BigEndian.PutUint32(dst[0:4], h.Time.Sec)
	binary.BigEndian.PutUint32(dst[4:8], h.Time.Nsec)
	copy(dst[8:8+ChallengeSize], h.Challenge[:])
	binary.BigEndian.PutUint32(dst[18:22], h.Digest)
	binary.BigEndian.PutUint16(dst[22:24], uint16(h.PayloadType))
}

// Decode parses a Header from the front of src. src must be at least
// HeaderSize bytes.
func Decode(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header, got %d want %d", len(src), HeaderSize)
	}
	var h Header
	h.Time.Sec = binary.BigEndian.Uint32(src[0:4])
	h.Time.Nsec = binary.BigEndian.Uint32(src[4:8])
	copy(h.Challenge[:], src[8:8+ChallengeSize])
	h.Digest = binary.BigEndian.Uint32(src[18:22])
	h.PayloadType = Payload(binary.BigEndian.Uint16(src[22:24]))
	return h, nil
}

// ChallengeString returns the NUL-terminated challenge field as a Go string,
// stopping at the first NUL byte (or the full field width if none is
// present).
func (h Header) ChallengeString() string {
	return challengeString(h.Challenge[:])
}

func challengeString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// PutChallenge copies s into the fixed-width challenge field, NUL-padding or
// truncating as needed.
func PutChallenge(s string) [ChallengeSize]byte {
	var out [ChallengeSize]byte
	n := copy(out[:], s)
	for i := n; i < ChallengeSize; i++ {
		out[i] = 0
	}
	return out
}
