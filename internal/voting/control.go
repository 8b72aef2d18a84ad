package voting

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrUnknownInstance/ErrUnknownClientName are returned by the control
// surface operations below when a node or client name isn't registered.
var (
	ErrUnknownInstance  = fmt.Errorf("voting: unknown instance")
	ErrUnknownClientName = fmt.Errorf("voting: unknown client name")
)

// findInstance and findClientByName are the control surface's lookups by
// the human-facing identifiers (node number, client name) rather than the
// wire-level digest the protocol packets use.
func (s *State) findInstance(node int) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.Instances[node]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInstance, node)
	}
	return in, nil
}

func (in *Instance) findClientByName(name string) (*Client, error) {
	for _, c := range in.Clients {
		if c.Name == name {
			return c, nil
		}
	}
	for _, c := range in.Roster {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownClientName, name)
}

// Instance returns the registered instance for node, if any. Exposed for
// callers (the control-surface API) that need to subscribe to its display
// stream directly.
func (s *State) Instance(node int) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.Instances[node]
	return in, ok
}

// SetTestMode implements the control surface's test(node, value) operation
// (spec.md §6). mode/cycle follow internal/voting.TestMode semantics;
// cycle is ignored outside TestModeCycle.
func (s *State) SetTestMode(node int, mode TestMode, cycle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.Instances[node]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, node)
	}
	in.Test = mode
	in.TestCycle = cycle
	in.testCounter = 0
	in.testIndex = 0
	return nil
}

// SetPriorityOverride implements prio(node, client, value) (spec.md §6).
// value is PrioInactive to clear the override and fall back to the
// client's configured static priority.
func (s *State) SetPriorityOverride(node int, clientName string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.Instances[node]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, node)
	}
	c, err := in.findClientByName(clientName)
	if err != nil {
		return err
	}
	c.PrioOverride = value
	return nil
}

// SetRecorder implements record(node, path) (spec.md §6). A nil recorder
// stops recording, closing any previously active one first.
func (s *State) SetRecorder(node int, rec Recorder) error {
	s.mu.Lock()
	prev, ok := s.Instances[node]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownInstance, node)
	}
	old := prev.Recorder
	prev.Recorder = rec
	s.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

// SetToneLevel implements tone(node, level) (spec.md §6): the TX CTCSS
// level in dB, applied on the next transmit tick.
func (s *State) SetToneLevel(node int, levelDB float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.Instances[node]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, node)
	}
	in.CTCSSLevel = levelDB
	return nil
}

// SetTXLockout implements txlockout(node, spec) (spec.md §6). spec is
// "all" (lock out every client), "none" (clear every lockout), or a
// comma-separated list of "+name"/"-name" deltas against the current state.
func (s *State) SetTXLockout(node int, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.Instances[node]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, node)
	}

	switch spec {
	case "all":
		for _, c := range in.Clients {
			c.TXLockout = true
		}
		return nil
	case "none":
		for _, c := range in.Clients {
			c.TXLockout = false
		}
		return nil
	}

	for _, term := range strings.Split(spec, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		var lock bool
		switch term[0] {
		case '+':
			lock = true
		case '-':
			lock = false
		default:
			return fmt.Errorf("voting: txlockout term %q must start with + or -", term)
		}
		c, err := in.findClientByName(term[1:])
		if err != nil {
			return err
		}
		c.TXLockout = lock
	}
	return nil
}

// PingByName starts a ping batch against the named client on node,
// resolving the control surface's ping(client, count) identifier (spec.md
// §6) to the internal Client and delegating to StartPing.
func (s *State) PingByName(node int, clientName string, count int) error {
	in, err := s.findInstance(node)
	if err != nil {
		return err
	}
	s.mu.Lock()
	c, err := in.findClientByName(clientName)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.StartPing(c, count)
	return nil
}

// ClientStatusReport is one client's row in a NodeStatusReport (spec.md §6
// "status query").
type ClientStatusReport struct {
	Name         string
	Addr         string
	Proxied      bool
	Transmit     bool
	Master       bool
	ADPCM        bool
	NULaw        bool
	Mix          bool
	TXLockout    bool
	PrioOverride int
	LastRSSI     uint8
}

// NodeStatusReport is one instance's row in the status() control operation.
type NodeStatusReport struct {
	Node    int
	Winner  string
	Clients []ClientStatusReport
}

// Status implements the status() control operation: every configured node,
// its current winner, and every client's flags/peer address/last RSSI
// (spec.md §6).
func (s *State) Status() []NodeStatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]NodeStatusReport, 0, len(s.Instances))
	for _, in := range s.Instances {
		winnerName := ""
		if in.lastWinner != nil {
			winnerName = in.lastWinner.Name
		}
		report := NodeStatusReport{Node: in.Node, Winner: winnerName}
		for _, c := range in.Clients {
			addr := ""
			if c.IsProxied {
				addr = net.JoinHostPort(net.IP(c.ProxyIP[:]).String(), strconv.Itoa(c.ProxyPort))
			} else {
				addr = net.JoinHostPort(net.IP(c.IP[:]).String(), strconv.Itoa(c.Port))
			}
			report.Clients = append(report.Clients, ClientStatusReport{
				Name:         c.Name,
				Addr:         addr,
				Proxied:      c.IsProxied,
				Transmit:     c.ToTransmit,
				Master:       c.CurMaster,
				ADPCM:        c.DoADPCM,
				NULaw:        c.DoNULaw,
				Mix:          c.Mix,
				TXLockout:    c.TXLockout,
				PrioOverride: c.PrioOverride,
				LastRSSI:     c.LastRSSI,
			})
		}
		out = append(out, report)
	}
	return out
}
