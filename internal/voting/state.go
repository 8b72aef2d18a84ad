package voting

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/radiovoter/voter/internal/wire"
)

// Timing and liveness constants, named directly from spec.md §4/§7.
const (
	RXTimeoutMs     = 200
	ClientTimeoutMs = 3000
	MasterTimeoutMs = 100
	TXKeepaliveMs   = 1000
	PingTimeMs      = 250
	PingTimeoutMs   = 3000
	MaxMasterTicks  = 3 // ticks (20ms each) of master silence before timing loss
	TickInterval    = 20 * time.Millisecond
)

// State is the single process-wide owner of every instance, every
// authenticated client, and the shared master timebase — the Go analogue
// of the original driver's voter_lock-protected globals. All mutation goes
// through State's methods, which hold mu for the duration of one packet
// dispatch or one tick of voting/drain work, never longer.
type State struct {
	mu sync.Mutex

	Challenge string
	Sanity    bool
	Puckit    bool

	Instances       map[int]*Instance
	clientsByDigest map[uint32]*Client

	MasterClient  *Client
	MasterTime    wire.VTime
	MasterGPSTime time.Time
	tickCount     int // ticks since last master packet was observed

	warn   *warnLimiter
	logger *slog.Logger

	clientTimeouts uint64 // atomic; scraped by internal/metrics

	// OnPingRTT, if set, is invoked with each completed ping reply's
	// round-trip time, feeding the metrics ping-RTT histogram (spec.md
	// §4.10 point 5). Call sites hold State's lock when invoking it.
	OnPingRTT func(node int, rttMs float64)
}

// NewState constructs an empty State ready to accept instances and clients.
func NewState(challenge string, sanity, puckit bool, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		Challenge:       challenge,
		Sanity:          sanity,
		Puckit:          puckit,
		Instances:       make(map[int]*Instance),
		clientsByDigest: make(map[uint32]*Client),
		warn:            newWarnLimiter(),
		logger:          logger.With("subsystem", "voting"),
	}
}

// AddInstance registers an instance. Node numbers must be unique and non-zero.
func (s *State) AddInstance(in *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.Node == 0 {
		return fmt.Errorf("voting: instance node number must be non-zero")
	}
	if _, exists := s.Instances[in.Node]; exists {
		return fmt.Errorf("voting: instance %d already registered", in.Node)
	}
	s.Instances[in.Node] = in
	return nil
}

// RemoveInstance destroys an instance and all its clients.
func (s *State) RemoveInstance(node int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.Instances[node]
	if !ok {
		return
	}
	for digest := range in.Clients {
		delete(s.clientsByDigest, digest)
	}
	delete(s.Instances, node)
}

// AddClient registers a client under its instance and the global digest
// table under its current digest. If sanity checking is enabled and another
// authenticated client on the same instance already holds this (ip, port),
// both are invalidated (spec.md §4.10 point 2).
func (s *State) AddClient(c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.Instances[c.Node]
	if !ok {
		return fmt.Errorf("voting: no instance registered for node %d", c.Node)
	}

	if s.Sanity {
		for _, other := range in.Clients {
			if other == c {
				continue
			}
			if other.HeardFrom && other.IP == c.IP && other.Port == c.Port {
				s.invalidateLocked(other)
				s.invalidateLocked(c)
				return fmt.Errorf("voting: duplicate (ip, port) for node %d between %q and %q", c.Node, other.Name, c.Name)
			}
		}
	}

	in.Clients[c.Digest] = c
	s.clientsByDigest[c.Digest] = c
	return nil
}

// LookupClient resolves a client by its current digest. Returns nil if no
// live client (with a live instance) matches.
func (s *State) LookupClient(digest uint32) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clientsByDigest[digest]
	if !ok {
		return nil
	}
	if _, liveInstance := s.Instances[c.Node]; !liveInstance {
		return nil
	}
	return c
}

// Invalidate clears a client's digest and heard-from state so it must
// reauthenticate, without removing it from its instance's roster.
func (s *State) Invalidate(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked(c)
}

func (s *State) invalidateLocked(c *Client) {
	delete(s.clientsByDigest, c.Digest)
	if in, ok := s.Instances[c.Node]; ok {
		delete(in.Clients, c.Digest)
	}
	c.Digest = 0
	c.HeardFrom = false
	if c.CurMaster {
		c.CurMaster = false
		if s.MasterClient == c {
			s.clearMasterLocked()
		}
	}
}

// Rekey moves a client to a new digest (used when the server issues a new
// challenge-derived digest during the auth handshake).
func (s *State) Rekey(c *Client, newDigest uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clientsByDigest, c.Digest)
	if in, ok := s.Instances[c.Node]; ok {
		delete(in.Clients, c.Digest)
		in.Clients[newDigest] = c
	}
	c.Digest = newDigest
	s.clientsByDigest[newDigest] = c
}

// electMasterLocked re-derives the system's current timing master: it kills
// every client's curmaster flag, then promotes the first configured
// ismaster client that has been heard from within MasterTimeoutMs, walking
// instances in node order and each instance's roster in configuration order
// (chan_voter.c ~3960-4008: "first, kill all the 'curmaster' flags", then
// promote the first active master). At most one client is ever curmaster
// (invariant 2). Caller holds s.mu. Run once per inbound audio packet so the
// elected master tracks liveness without a separate sweep.
func (s *State) electMasterLocked() {
	now := nowFunc()

	var elected *Client
	nodes := make([]int, 0, len(s.Instances))
	for node := range s.Instances {
		nodes = append(nodes, node)
	}
	sort.Ints(nodes)

search:
	for _, node := range nodes {
		for _, c := range s.Instances[node].Roster {
			if !c.IsMaster || !c.HeardFrom {
				continue
			}
			if now.Sub(c.LastHeardTime) > MasterTimeoutMs*time.Millisecond {
				continue
			}
			elected = c
			break search
		}
	}

	if elected == s.MasterClient {
		if elected != nil {
			elected.CurMaster = true
		}
		return
	}
	if s.MasterClient != nil {
		s.MasterClient.CurMaster = false
	}
	s.MasterClient = elected
	s.MasterTime = wire.VTime{} // stale until the newly elected master's next packet lands
	if elected != nil {
		elected.CurMaster = true
	}
	s.tickCount = 0
}

// ObserveTick advances the master-silence counter once per 20ms timer tick,
// returning true the instant silence crosses MaxMasterTicks (spec.md §7
// "Timing loss").
func (s *State) ObserveTick() (lostMaster bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MasterClient == nil {
		return false
	}
	s.tickCount++
	if s.tickCount >= MaxMasterTicks {
		s.clearMasterLocked()
		return true
	}
	return false
}

func (s *State) clearMasterLocked() {
	if s.MasterClient != nil {
		s.MasterClient.CurMaster = false
	}
	s.MasterClient = nil
	s.MasterTime = wire.VTime{}
	s.tickCount = 0
}

// HasAnyMaster reports whether any instance has a client configured with
// IsMaster anywhere in the system, regardless of whether that client is
// currently heard from (spec.md §4.1 "no master configured anywhere").
func (s *State) HasAnyMaster() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAnyMasterConfiguredLocked()
}

func (s *State) hasAnyMasterConfiguredLocked() bool {
	for _, in := range s.Instances {
		for _, c := range in.Roster {
			if c.IsMaster {
				return true
			}
		}
	}
	return false
}

// WarnOnce reports whether a rate-limited "no master configured" warning
// should fire for node right now (spec.md CLIENT_WARN_SECS=60).
func (s *State) WarnOnce(node int) bool {
	return s.warn.Allow(node)
}

// Lock/Unlock expose the coarse mutex directly to the reader/timer/vote
// code paths that need to hold it across several State/Instance field
// touches within one packet dispatch or one tick.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// Logger returns the package-scoped base logger.
func (s *State) Logger() *slog.Logger { return s.logger }

// IncrClientTimeout records one client-timeout invalidation for the metrics
// collector. Safe to call without holding State's lock.
func (s *State) IncrClientTimeout() {
	atomic.AddUint64(&s.clientTimeouts, 1)
}

// ClientTimeouts returns the cumulative client-timeout count.
func (s *State) ClientTimeouts() uint64 {
	return atomic.LoadUint64(&s.clientTimeouts)
}

// InstanceSnapshot is a point-in-time view of one instance's voting state,
// consumed by the metrics collector at scrape time.
type InstanceSnapshot struct {
	Node    int
	Winner  string
	Clients []ClientSnapshot
}

// ClientSnapshot is one client's contribution to an InstanceSnapshot.
type ClientSnapshot struct {
	Name     string
	RSSI     uint8
	IsWinner bool
	Ping     PingSummary
}

// Snapshot returns a consistent point-in-time view of every instance's
// current winner, per-client RSSI, and ping statistics.
func (s *State) Snapshot() []InstanceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]InstanceSnapshot, 0, len(s.Instances))
	for _, in := range s.Instances {
		winnerName := ""
		if in.lastWinner != nil {
			winnerName = in.lastWinner.Name
		}
		snap := InstanceSnapshot{Node: in.Node, Winner: winnerName}
		for _, c := range in.Clients {
			snap.Clients = append(snap.Clients, ClientSnapshot{
				Name:     c.Name,
				RSSI:     c.LastRSSI,
				IsWinner: in.lastWinner == c,
				Ping:     c.Ping.Summary(),
			})
		}
		out = append(out, snap)
	}
	return out
}
