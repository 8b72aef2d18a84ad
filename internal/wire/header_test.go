package wire

import (
	"testing"

	"pgregory.net/rapid"
)

func TestHeaderEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		h    Header
	}{
		{"zero value", Header{}},
		{"auth request", Header{Time: VTime{Sec: 1700000000, Nsec: 0}, Challenge: PutChallenge("abc1234567"), Digest: 0, PayloadType: PayloadNone}},
		{"audio frame", Header{Time: VTime{Sec: 42, Nsec: 7}, Challenge: PutChallenge("zzzyy"), Digest: 0xdeadbeef, PayloadType: PayloadULaw}},
		{"proxy envelope", Header{Time: VTime{Sec: 1, Nsec: 2}, Digest: 3, PayloadType: PayloadProxy}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, HeaderSize)
			tc.h.Encode(buf)
			got, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.h {
				t.Fatalf("round-trip mismatch: got %+v, want %+v", got, tc.h)
			}
		})
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error decoding a too-short buffer")
	}
}

func TestChallengeStringStopsAtNUL(t *testing.T) {
	h := Header{Challenge: PutChallenge("abc")}
	if got := h.ChallengeString(); got != "abc" {
		t.Fatalf("ChallengeString() = %q, want %q", got, "abc")
	}
}

// TestHeaderRoundTripProperty exercises the packet round-trip law from the
// testable-properties list: encoding then decoding any header field tuple
// yields the exact same tuple.
func TestHeaderRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := Header{
			Time: VTime{
				Sec:  rapid.Uint32().Draw(t, "sec"),
				Nsec: rapid.Uint32().Draw(t, "nsec"),
			},
			Challenge:   PutChallenge(rapid.StringOfN(rapid.RuneFrom([]rune("abcdefghijklmnopqrstuvwxyz0123456789")), 0, ChallengeSize, -1).Draw(t, "challenge")),
			Digest:      rapid.Uint32().Draw(t, "digest"),
			PayloadType: Payload(rapid.Uint16().Draw(t, "payload_type")),
		}
		buf := make([]byte, HeaderSize)
		h.Encode(buf)
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != h {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", got, h)
		}
	})
}
