// Package config loads voterd's runtime configuration: process-wide flags
// (bind address, data directory, logging) from the command line and
// environment, and the node/client topology from a YAML snapshot file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// Config holds process-wide runtime configuration.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	BindAddr       string
	ListenPort     int
	HTTPPort       int
	DataDir        string
	TopologyFile   string
	LogLevel       string
	LogFormat      string
	DefaultBufLen  int  // samples, rounded down to a multiple of FRAME_SIZE
	Sanity         bool // duplicate (ip, port) detection
	Puckit         bool // per-client GPS-offset compensation
	Challenge      string
	RecordingDir   string
}

const (
	defaultBindAddr      = "0.0.0.0"
	defaultListenPort    = 667
	defaultHTTPPort      = 8080
	defaultDataDir       = "./data"
	defaultTopologyFile  = "./voter.yaml"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultBufLenSamples = 3840 // 480ms @ 8kHz
	defaultRecordingDir  = "./data/recordings"
)

// envPrefix is the prefix for all voterd environment variables.
const envPrefix = "VOTERD_"

// Load parses configuration from CLI flags and environment variables.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := pflag.NewFlagSet("voterd", pflag.ContinueOnError)

	fs.StringVar(&cfg.BindAddr, "bind-addr", defaultBindAddr, "UDP bind address for the voting socket")
	fs.IntVar(&cfg.ListenPort, "listen-port", defaultListenPort, "UDP listen port for client traffic")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP control-surface listen port")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for GPS logs")
	fs.StringVar(&cfg.TopologyFile, "topology", defaultTopologyFile, "path to the node/client topology YAML file")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.IntVar(&cfg.DefaultBufLen, "default-buflen", defaultBufLenSamples, "default per-client ring buffer length, in samples")
	fs.BoolVar(&cfg.Sanity, "sanity", true, "reject clients that share an (ip, port) with another authenticated client")
	fs.BoolVar(&cfg.Puckit, "puckit", true, "apply per-client GPS-offset ('puck') timing compensation")
	fs.StringVar(&cfg.Challenge, "challenge", "", "fixed server challenge string (random per process if empty)")
	fs.StringVar(&cfg.RecordingDir, "recording-dir", defaultRecordingDir, "directory for gzip-compressed per-instance recordings")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if cfg.Challenge == "" {
		ch, err := randomChallenge()
		if err != nil {
			return nil, fmt.Errorf("generating server challenge: %w", err)
		}
		cfg.Challenge = ch
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(fs *pflag.FlagSet, cfg *Config) {
	envMap := map[string]*string{
		"bind-addr":     &cfg.BindAddr,
		"data-dir":      &cfg.DataDir,
		"topology":      &cfg.TopologyFile,
		"log-level":     &cfg.LogLevel,
		"log-format":    &cfg.LogFormat,
		"challenge":     &cfg.Challenge,
		"recording-dir": &cfg.RecordingDir,
	}
	for flagName, dst := range envMap {
		if fs.Changed(flagName) {
			continue
		}
		if val, ok := os.LookupEnv(envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))); ok && val != "" {
			*dst = val
		}
	}
}

func (c *Config) validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listen-port must be between 1 and 65535, got %d", c.ListenPort)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.DefaultBufLen < 320 {
		return fmt.Errorf("default-buflen must be at least 320 (2 frames), got %d", c.DefaultBufLen)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

func randomChallenge() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
