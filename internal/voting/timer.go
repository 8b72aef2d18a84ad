package voting

import (
	"context"
	"log/slog"
	"time"

	"github.com/radiovoter/voter/internal/hostchan"
)

// Timer drives the 20ms liveness tick: master-silence detection, stale
// client timeouts, and (while no master is currently elected) the voting/drain pass
// itself (spec.md §2 "Timer loop").
type Timer struct {
	state  *State
	logger *slog.Logger

	// VoteAll is invoked once per tick when no master client drives voting
	// directly; wired by the caller to run Vote+MixInto across every
	// instance and push results to their sinks.
	VoteAll func()
}

// NewTimer constructs a Timer.
func NewTimer(state *State) *Timer {
	return &Timer{state: state, logger: state.Logger().With("subsystem", "timer")}
}

// Run blocks, ticking every TickInterval until ctx is canceled.
func (tm *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lost := tm.state.ObserveTick()
			if lost {
				tm.handleMasterLoss()
			}
			tm.checkClientTimeouts()
			if tm.state.MasterClient == nil && tm.VoteAll != nil {
				tm.VoteAll()
			}
		}
	}
}

// handleMasterLoss clears queued TX audio and un-keys every instance that
// currently believes it has carrier (spec.md §7 "Timing loss").
func (tm *Timer) handleMasterLoss() {
	tm.state.Lock()
	instances := make([]*Instance, 0, len(tm.state.Instances))
	for _, in := range tm.state.Instances {
		instances = append(instances, in)
	}
	tm.state.Unlock()

	tm.logger.Warn("master timing source lost")
	for _, in := range instances {
		in.FlushQueues()
		in.mu.Lock()
		wasKeyed := in.rxKey
		in.rxKey = false
		sink := in.Sink
		in.mu.Unlock()
		if wasKeyed && sink != nil {
			if err := sink.PushControl(hostchan.RadioUnkey); err != nil {
				tm.logger.Debug("pushing RADIO_UNKEY failed", "node", in.Node, "err", err)
			}
		}
	}
}

// checkClientTimeouts invalidates any client that hasn't been heard from
// within its applicable timeout: MasterTimeoutMs for the current master,
// ClientTimeoutMs otherwise (spec.md §4.7).
func (tm *Timer) checkClientTimeouts() {
	tm.state.Lock()
	defer tm.state.Unlock()

	now := nowFunc()
	for _, in := range tm.state.Instances {
		for _, c := range in.Clients {
			if !c.HeardFrom {
				continue
			}
			timeout := time.Duration(ClientTimeoutMs) * time.Millisecond
			if c.CurMaster {
				timeout = time.Duration(MasterTimeoutMs) * time.Millisecond
			}
			if now.Sub(c.LastHeardTime) > timeout {
				tm.state.invalidateLocked(c)
				tm.state.IncrClientTimeout()
			}
		}
	}
}
