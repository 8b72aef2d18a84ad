// Command voterd runs the voting engine as a standalone process: it loads
// the node/client topology, binds the UDP voting socket, and serves the
// HTTP control surface and Prometheus metrics until terminated.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radiovoter/voter/internal/api"
	"github.com/radiovoter/voter/internal/config"
	"github.com/radiovoter/voter/internal/metrics"
	"github.com/radiovoter/voter/internal/voting"
)

func main() {
	if err := run(); err != nil {
		slog.Error("voterd exiting", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	topo, err := config.LoadTopology(cfg.TopologyFile)
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}

	state := voting.NewState(cfg.Challenge, cfg.Sanity, cfg.Puckit, logger)
	if err := buildTopology(state, topo, cfg.DefaultBufLen); err != nil {
		return fmt.Errorf("applying topology: %w", err)
	}

	udpAddr := &net.UDPAddr{IP: net.ParseIP(cfg.BindAddr), Port: cfg.ListenPort}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("binding voting socket %s: %w", udpAddr, err)
	}
	defer conn.Close()

	engine := voting.NewEngine(state, conn)
	reader := voting.NewReader(state, conn, cfg.DataDir, engine.RunVoteCycle)
	timer := voting.NewTimer(state)
	timer.VoteAll = engine.VoteAllInstances

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg, &statusAdapter{state}, state)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	state.OnPingRTT = collector.ObservePingRTT

	if err := os.MkdirAll(cfg.RecordingDir, 0o755); err != nil {
		return fmt.Errorf("creating recording directory %s: %w", cfg.RecordingDir, err)
	}
	recFactory := api.RecorderFactory(func(pathTemplate string) (voting.Recorder, error) {
		return voting.NewGzipRecorder(filepath.Join(cfg.RecordingDir, pathTemplate))
	})

	apiServer := api.NewServer(state, logger, recFactory)
	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddr, strconv.Itoa(cfg.HTTPPort)),
		Handler: mux,
	}

	primaryWorkers, err := buildPrimaryWorkers(state, topo)
	if err != nil {
		return fmt.Errorf("starting primary sessions: %w", err)
	}
	transmitters := buildTransmitters(state, conn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reader stopped", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		timer.Run(ctx)
	}()

	for _, pw := range primaryWorkers {
		pw := pw
		wg.Add(1)
		go func() {
			defer wg.Done()
			pw.Run(ctx)
		}()
	}

	for _, tx := range transmitters {
		tx := tx
		wg.Add(1)
		go func() {
			defer wg.Done()
			runTransmitter(ctx, tx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http control surface listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("voterd started", "udp_addr", udpAddr.String(), "nodes", len(topo.Instances))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "err", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "err", err)
	}

	wg.Wait()
	return nil
}

// runTransmitter drives one instance's transmit worker on the shared 20ms
// tick until ctx is canceled.
func runTransmitter(ctx context.Context, tx *voting.Transmitter) {
	ticker := time.NewTicker(voting.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tx.Tick()
		}
	}
}

// buildTransmitters constructs one Transmitter per registered instance.
func buildTransmitters(state *voting.State, conn *net.UDPConn) []*voting.Transmitter {
	state.Lock()
	defer state.Unlock()
	out := make([]*voting.Transmitter, 0, len(state.Instances))
	for _, in := range state.Instances {
		out = append(out, voting.NewTransmitter(state, in, conn))
	}
	return out
}

// buildPrimaryWorkers constructs one PrimaryWorker per instance configured
// to proxy client traffic to an upstream primary server.
func buildPrimaryWorkers(state *voting.State, topo *config.Topology) ([]*voting.PrimaryWorker, error) {
	var out []*voting.PrimaryWorker
	for _, instCfg := range topo.Instances {
		if instCfg.Primary == nil {
			continue
		}
		in, ok := state.Instance(instCfg.NodeNum)
		if !ok {
			continue
		}
		pw, err := voting.NewPrimaryWorker(state, in, in.Primary)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", instCfg.NodeNum, err)
		}
		out = append(out, pw)
	}
	return out, nil
}

// statusAdapter bridges voting.State's snapshot to the metrics package's
// decoupled StatusProvider interface, converting InstanceSnapshot into
// InstanceStatus without internal/metrics ever importing internal/voting.
type statusAdapter struct {
	state *voting.State
}

func (a *statusAdapter) VotingStatus() []metrics.InstanceStatus {
	snaps := a.state.Snapshot()
	out := make([]metrics.InstanceStatus, 0, len(snaps))
	for _, s := range snaps {
		status := metrics.InstanceStatus{Node: s.Node, Winner: s.Winner}
		for _, c := range s.Clients {
			status.Clients = append(status.Clients, metrics.ClientStatus{
				Name:       c.Name,
				RSSI:       c.RSSI,
				IsWinner:   c.IsWinner,
				PingBestMs: c.Ping.BestMs,
				PingAvgMs:  c.Ping.AvgMs,
			})
		}
		out = append(out, status)
	}
	return out
}

// buildTopology populates state with every configured instance and client
// from topo, converting the YAML-facing config types into voting's
// runtime-facing equivalents.
func buildTopology(state *voting.State, topo *config.Topology, defaultBufLen int) error {
	for _, instCfg := range topo.Instances {
		in := voting.NewInstance(instCfg.NodeNum)
		in.LingerSecs = instCfg.LingerSecs
		in.PLFilter = instCfg.PLFilter
		in.DeEmphasis = instCfg.DeEmphasis
		in.Duplex = instCfg.Duplex
		in.MixMinus = instCfg.MixMinus
		in.CTCSSFreq = instCfg.CTCSSFreq
		in.CTCSSLevel = instCfg.CTCSSLevel
		in.TurnOff = convertTurnOff(instCfg.TurnOff)
		in.Thresholds = convertThresholds(instCfg.Thresholds)
		in.Primary = convertPrimary(instCfg.Primary)
		in.IsPrimary = instCfg.IsPrimary
		in.Streams = instCfg.Streams
		in.GainDB = instCfg.GainDB

		if err := state.AddInstance(in); err != nil {
			return err
		}

		for _, clientCfg := range topo.Clients[instCfg.NodeNum] {
			buflen := clientCfg.BufLen
			if buflen == 0 {
				buflen = defaultBufLen
			}
			c := voting.NewClient(instCfg.NodeNum, clientCfg.Name, clientCfg.Password, buflen)
			if clientCfg.IP != "" {
				ip, err := parseIP4(clientCfg.IP)
				if err != nil {
					return fmt.Errorf("node %d client %q: %w", instCfg.NodeNum, clientCfg.Name, err)
				}
				c.IP = ip
			}
			c.ToTransmit = clientCfg.Transmit
			c.IsMaster = clientCfg.Master
			c.DoADPCM = clientCfg.ADPCM
			c.DoNULaw = clientCfg.NULaw
			c.NoDeEmphasis = clientCfg.NoDeEmphasis
			c.NoPLFilter = clientCfg.NoPLFilter
			c.Mix = clientCfg.Mix
			c.Prio = clientCfg.Priority
			c.GPSID = clientCfg.GPSID

			in.AddToRoster(c)
		}
	}
	return nil
}

func convertTurnOff(t config.TurnOffType) voting.TurnOffType {
	switch t {
	case config.TurnOffPhase:
		return voting.TurnOffPhase
	case config.TurnOffNoTone:
		return voting.TurnOffNoTone
	default:
		return voting.TurnOffNone
	}
}

func convertThresholds(entries []config.ThresholdEntry) []voting.ThresholdEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]voting.ThresholdEntry, len(entries))
	for i, e := range entries {
		out[i] = voting.ThresholdEntry{RSSI: e.RSSI, Count: e.Count, Linger: e.Linger}
	}
	return out
}

func convertPrimary(p *config.PrimaryConfig) *voting.PrimaryConfig {
	if p == nil {
		return nil
	}
	return &voting.PrimaryConfig{Addr: p.Addr, Password: p.Password}
}

// parseIP4 parses a dotted-quad string into the 4-byte form Client.IP and
// roster IP matching use.
func parseIP4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("invalid IP address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("IP address %q is not IPv4", s)
	}
	copy(out[:], v4)
	return out, nil
}
