package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxThresholds is the ceiling on per-instance RSSI threshold entries
// (spec's MAXTHRESHOLDS = 20).
const MaxThresholds = 20

// ThresholdEntry is one row of the sticky-winner hysteresis table: while the
// current winner's RSSI stays at or above RSSI, it keeps winning for up to
// Count ticks before Linger ticks of grace are armed.
type ThresholdEntry struct {
	RSSI   uint8 `yaml:"rssi"`
	Count  int   `yaml:"count"`
	Linger int   `yaml:"linger"`
}

// TurnOffType selects how an instance indicates TX release.
type TurnOffType string

const (
	TurnOffNone   TurnOffType = "none"
	TurnOffPhase  TurnOffType = "phase"
	TurnOffNoTone TurnOffType = "notone"
)

// PrimaryConfig describes the upstream primary server a secondary instance
// proxies client traffic through.
type PrimaryConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// InstanceConfig is one repeater node's configuration.
type InstanceConfig struct {
	NodeNum     int             `yaml:"node"`
	LingerSecs  int             `yaml:"linger_secs"`
	PLFilter    bool            `yaml:"pl_filter"`
	DeEmphasis  bool            `yaml:"deemphasis"`
	Duplex      bool            `yaml:"duplex"`
	MixMinus    bool            `yaml:"mix_minus"`
	CTCSSFreq   float64         `yaml:"ctcss_freq"`
	CTCSSLevel  float64         `yaml:"ctcss_level"`
	TurnOff     TurnOffType     `yaml:"turn_off"`
	Thresholds  []ThresholdEntry `yaml:"thresholds"`
	Primary     *PrimaryConfig  `yaml:"primary,omitempty"`
	IsPrimary   bool            `yaml:"is_primary"`
	Streams     []string        `yaml:"streams"`
	GainDB      float64         `yaml:"gain_db"`
}

// ClientConfig is one remote radio endpoint's static configuration.
//
// IP pins the client to a known source address so the server can resolve
// which roster entry's password governs a digest=0 handshake packet before
// any digest has been negotiated; ports are learned dynamically from the
// first packet, so IP alone is matched (a client may roam across ports).
type ClientConfig struct {
	Name         string `yaml:"name"`
	IP           string `yaml:"ip,omitempty"`
	Password     string `yaml:"password"`
	Transmit     bool   `yaml:"transmit"`
	Master       bool   `yaml:"master"`
	ADPCM        bool   `yaml:"adpcm"`
	NULaw        bool   `yaml:"nulaw"`
	NoDeEmphasis bool   `yaml:"no_deemphasis"`
	NoPLFilter   bool   `yaml:"no_pl_filter"`
	Mix          bool   `yaml:"mix"`
	Priority     int    `yaml:"priority"`
	GPSID        string `yaml:"gps_id"`
	BufLen       int    `yaml:"buflen,omitempty"` // 0 = use the global default
}

// Topology is the full node/client snapshot loaded from the topology file.
type Topology struct {
	Instances []InstanceConfig         `yaml:"instances"`
	Clients   map[int][]ClientConfig   `yaml:"clients"` // keyed by node number
}

// LoadTopology reads and validates a topology YAML file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file %s: %w", path, err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing topology file %s: %w", path, err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("validating topology file %s: %w", path, err)
	}
	return &t, nil
}

func (t *Topology) validate() error {
	seen := make(map[int]bool)
	for _, inst := range t.Instances {
		if inst.NodeNum == 0 {
			return fmt.Errorf("instance with node=0 is not allowed")
		}
		if seen[inst.NodeNum] {
			return fmt.Errorf("duplicate node number %d", inst.NodeNum)
		}
		seen[inst.NodeNum] = true
		if len(inst.Thresholds) > MaxThresholds {
			return fmt.Errorf("node %d: %d thresholds exceeds maximum of %d", inst.NodeNum, len(inst.Thresholds), MaxThresholds)
		}
		switch inst.TurnOff {
		case "", TurnOffNone, TurnOffPhase, TurnOffNoTone:
		default:
			return fmt.Errorf("node %d: unknown turn_off type %q", inst.NodeNum, inst.TurnOff)
		}
	}
	for node, clients := range t.Clients {
		if !seen[node] {
			return fmt.Errorf("clients configured for unknown node %d", node)
		}
		for _, c := range clients {
			if c.Password == "" {
				return fmt.Errorf("node %d: client %q has no password", node, c.Name)
			}
		}
	}
	return nil
}
