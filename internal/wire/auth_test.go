package wire

import "testing"

func TestDigestNonZeroForNonEmptyInputs(t *testing.T) {
	if d := Digest("abc1234567", "hunter2"); d == 0 {
		t.Fatal("Digest of non-empty inputs must not be zero")
	}
}

func TestDigestDeterministic(t *testing.T) {
	a := Digest("zzzyy", "secret")
	b := Digest("zzzyy", "secret")
	if a != b {
		t.Fatalf("Digest not deterministic: %x != %x", a, b)
	}
}

func TestDigestDistinguishesChallengeAndSecret(t *testing.T) {
	// Digest folds both strings through one running CRC, so swapping which
	// half contributes which bytes must not collide for ordinary inputs.
	a := Digest("left", "right")
	b := Digest("right", "left")
	if a == b {
		t.Fatal("Digest(a, b) collided with Digest(b, a)")
	}
}

func TestDigestLookupIsUniqueToChallengeSecretPair(t *testing.T) {
	clients := map[string]string{
		"alpha": "passwordA",
		"bravo": "passwordB",
	}
	challenge := "serverchal"

	digests := make(map[uint32]string)
	for name, pass := range clients {
		d := Digest(challenge, pass)
		if other, exists := digests[d]; exists {
			t.Fatalf("digest collision between %q and %q", name, other)
		}
		digests[d] = name
	}

	want := Digest(challenge, clients["alpha"])
	if digests[want] != "alpha" {
		t.Fatalf("lookup by digest returned %q, want alpha", digests[want])
	}
}
