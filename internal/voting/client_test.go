package voting

import "testing"

func TestClientWriteFrameAndDrain(t *testing.T) {
	c := NewClient(1, "alice", "secret", 640)

	audio := make([]byte, FrameSize)
	for i := range audio {
		audio[i] = byte(i)
	}
	c.WriteFrame(0, audio, 200)

	got := make([]byte, FrameSize)
	c.DrainedAudio(got)
	for i := range got {
		if got[i] != audio[i] {
			t.Fatalf("DrainedAudio[%d] = %d, want %d", i, got[i], audio[i])
		}
	}
	if rssi := c.MeanRSSI(); rssi != 200 {
		t.Fatalf("MeanRSSI() = %d, want 200", rssi)
	}
}

func TestClientWriteFrameZeroRSSIWritesSilence(t *testing.T) {
	c := NewClient(1, "alice", "secret", 640)
	audio := make([]byte, FrameSize)
	for i := range audio {
		audio[i] = 0x10
	}
	c.WriteFrame(0, audio, 0)

	got := make([]byte, FrameSize)
	c.DrainedAudio(got)
	for i := range got {
		if got[i] != 0xFF {
			t.Fatalf("DrainedAudio[%d] = %#x, want silent 0xFF", i, got[i])
		}
	}
}

func TestClientClearDrainWindow(t *testing.T) {
	c := NewClient(1, "alice", "secret", 640)
	audio := make([]byte, FrameSize)
	for i := range audio {
		audio[i] = 0x55
	}
	c.WriteFrame(0, audio, 128)
	c.ClearDrainWindow()

	if rssi := c.MeanRSSI(); rssi != 0 {
		t.Fatalf("MeanRSSI() after clear = %d, want 0", rssi)
	}
	got := make([]byte, FrameSize)
	c.DrainedAudio(got)
	for i := range got {
		if got[i] != 0xFF {
			t.Fatalf("DrainedAudio[%d] after clear = %#x, want 0xFF", i, got[i])
		}
	}
}

func TestClientIncrDrainIndexWrapsAndTogglesPairing(t *testing.T) {
	c := NewClient(1, "alice", "secret", FrameSize*2)
	if c.Drain40ms {
		t.Fatal("Drain40ms should start false")
	}
	c.IncrDrainIndex()
	if c.DrainIndex != FrameSize {
		t.Fatalf("DrainIndex = %d, want %d", c.DrainIndex, FrameSize)
	}
	if !c.Drain40ms {
		t.Fatal("Drain40ms should toggle true after first advance")
	}
	c.IncrDrainIndex()
	if c.DrainIndex != 0 {
		t.Fatalf("DrainIndex after wrap = %d, want 0", c.DrainIndex)
	}
}

func TestClientEffectivePrio(t *testing.T) {
	c := NewClient(1, "alice", "secret", 640)
	c.Prio = 3
	if got := c.EffectivePrio(); got != 3 {
		t.Fatalf("EffectivePrio() = %d, want 3 (no override)", got)
	}
	c.PrioOverride = PrioMuted
	if got := c.EffectivePrio(); got != PrioMuted {
		t.Fatalf("EffectivePrio() = %d, want PrioMuted", got)
	}
}

func TestNewClientRoundsBufLenDownToFrame(t *testing.T) {
	c := NewClient(1, "alice", "secret", FrameSize*3+17)
	if c.BufLen != FrameSize*3 {
		t.Fatalf("BufLen = %d, want %d", c.BufLen, FrameSize*3)
	}

	tiny := NewClient(1, "bob", "secret", 10)
	if tiny.BufLen != FrameSize*2 {
		t.Fatalf("BufLen for undersized request = %d, want floor of %d", tiny.BufLen, FrameSize*2)
	}
}

func TestClientResizeResetsDrainIndices(t *testing.T) {
	c := NewClient(1, "alice", "secret", FrameSize*4)
	c.DrainIndex = FrameSize
	c.DrainIndex40ms = FrameSize
	c.Resize(FrameSize * 2)
	if c.DrainIndex != 0 || c.DrainIndex40ms != 0 {
		t.Fatalf("Resize did not reset drain indices: %d, %d", c.DrainIndex, c.DrainIndex40ms)
	}
	if c.BufLen != FrameSize*2 {
		t.Fatalf("BufLen after resize = %d, want %d", c.BufLen, FrameSize*2)
	}
}
