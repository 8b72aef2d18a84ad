// Package hostchan defines the narrow interfaces the voting engine uses to
// reach its host telephony framework. Everything on the other side of these
// interfaces — channel plumbing, DSP filter chains, DTMF detection, format
// translation into the channel's native slin — is an external collaborator
// and out of scope for this repository; the engine only ever sees a framed
// audio sink, a tone generator, a DTMF oracle, and a config snapshot.
package hostchan

import "time"

// FrameSamples is the number of signed linear PCM samples in one 20ms frame
// at the engine's 8kHz timebase.
const FrameSamples = 160

// ControlEvent is a channel-supervision signal pushed alongside audio.
type ControlEvent int

const (
	RadioKey ControlEvent = iota
	RadioUnkey
)

func (e ControlEvent) String() string {
	if e == RadioKey {
		return "RADIO_KEY"
	}
	return "RADIO_UNKEY"
}

// Sink is the audio/text/control destination for one instance's voted (or
// mixed) output. The host telephony framework implements this; the engine
// never constructs one itself.
type Sink interface {
	// PushAudio delivers one 160-sample signed linear frame.
	PushAudio(frame []int16) error
	// PushText delivers a winner-change or end-of-page announcement.
	PushText(msg string) error
	// PushControl delivers a carrier state transition.
	PushControl(ev ControlEvent) error
}

// ToneGenerator mixes a continuous sub-audible tone into outbound TX audio.
// CTCSS synthesis is DSP work the specification places outside the core;
// this interface is the seam a concrete generator plugs into.
type ToneGenerator interface {
	// Mix adds one tick's worth of tone into frame in place, at levelDB.
	Mix(frame []int16, freqHz, levelDB float64)
}

// DTMFEvent reports one detected digit's lifetime.
type DTMFEvent struct {
	Digit byte
	Begin time.Time
	End   time.Time
}

// DTMFDetector is the externally supplied digit detector run over the
// outbound mixed/voted frame.
type DTMFDetector interface {
	// Detect consumes one frame and reports a completed digit, if any ended
	// on this frame.
	Detect(frame []int16) (DTMFEvent, bool)
}
