// Package metrics exposes the voting engine's runtime state as Prometheus
// metrics, mirroring the pull-at-scrape-time Collector pattern the teacher
// uses for call/trunk/RTP statistics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// InstanceStatus is one instance's point-in-time voting state, decoupled
// from internal/voting's own types so this package never imports the
// domain package directly — the caller adapts voting.InstanceSnapshot into
// this shape when wiring the collector.
type InstanceStatus struct {
	Node    int
	Winner  string
	Clients []ClientStatus
}

// ClientStatus is one client's contribution to an InstanceStatus.
type ClientStatus struct {
	Name       string
	RSSI       uint8
	IsWinner   bool
	PingBestMs int
	PingAvgMs  float64
}

// StatusProvider supplies a fresh snapshot of every instance at scrape time.
type StatusProvider interface {
	VotingStatus() []InstanceStatus
}

// TimeoutCounter returns the cumulative count of client-timeout
// invalidations.
type TimeoutCounter interface {
	ClientTimeouts() uint64
}

// Collector is a prometheus.Collector gathering voter metrics at scrape
// time, in the same shape as the teacher's internal/metrics.Collector:
// narrow provider interfaces queried inside Collect, constant metrics
// emitted per call.
type Collector struct {
	status   StatusProvider
	timeouts TimeoutCounter

	rssiDesc      *prometheus.Desc
	winnerDesc    *prometheus.Desc
	pingBestDesc  *prometheus.Desc
	pingAvgDesc   *prometheus.Desc
	timeoutsDesc  *prometheus.Desc

	// PingRTT is a push-updated histogram: RTT samples arrive one at a time
	// from the reader as ping replies land, not at scrape time, so it can't
	// be derived from StatusProvider's point-in-time snapshot alone.
	PingRTT *prometheus.HistogramVec
}

// NewCollector builds a Collector pulling from status and timeouts (either
// may be nil) and registers both itself and its ping-RTT histogram against
// reg.
func NewCollector(reg prometheus.Registerer, status StatusProvider, timeouts TimeoutCounter) (*Collector, error) {
	c := &Collector{
		status:   status,
		timeouts: timeouts,
		rssiDesc: prometheus.NewDesc(
			"voter_client_rssi",
			"Mean RSSI over the last voted-on window for one client",
			[]string{"node", "client"}, nil,
		),
		winnerDesc: prometheus.NewDesc(
			"voter_client_is_winner",
			"1 if this client is the current voting winner for its node, else 0",
			[]string{"node", "client"}, nil,
		),
		pingBestDesc: prometheus.NewDesc(
			"voter_ping_best_ms",
			"Best round-trip time observed in the current ping batch",
			[]string{"node", "client"}, nil,
		),
		pingAvgDesc: prometheus.NewDesc(
			"voter_ping_avg_ms",
			"Average round-trip time observed in the current ping batch",
			[]string{"node", "client"}, nil,
		),
		timeoutsDesc: prometheus.NewDesc(
			"voter_client_timeouts_total",
			"Cumulative count of clients invalidated for missing their heartbeat timeout",
			nil, nil,
		),
		PingRTT: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voter_ping_rtt_ms",
			Help:    "Per-reply ping round-trip time",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		}, []string{"node"}),
	}
	if err := reg.Register(c); err != nil {
		return nil, fmt.Errorf("metrics: registering voter collector: %w", err)
	}
	if err := reg.Register(c.PingRTT); err != nil {
		return nil, fmt.Errorf("metrics: registering ping RTT histogram: %w", err)
	}
	return c, nil
}

// ObservePingRTT records one completed ping reply's round-trip time. Wired
// as voting.State.OnPingRTT.
func (c *Collector) ObservePingRTT(node int, rttMs float64) {
	c.PingRTT.WithLabelValues(fmt.Sprintf("%d", node)).Observe(rttMs)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rssiDesc
	ch <- c.winnerDesc
	ch <- c.pingBestDesc
	ch <- c.pingAvgDesc
	ch <- c.timeoutsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.status != nil {
		for _, in := range c.status.VotingStatus() {
			node := fmt.Sprintf("%d", in.Node)
			for _, cl := range in.Clients {
				ch <- prometheus.MustNewConstMetric(c.rssiDesc, prometheus.GaugeValue, float64(cl.RSSI), node, cl.Name)
				winner := 0.0
				if cl.IsWinner {
					winner = 1.0
				}
				ch <- prometheus.MustNewConstMetric(c.winnerDesc, prometheus.GaugeValue, winner, node, cl.Name)
				ch <- prometheus.MustNewConstMetric(c.pingBestDesc, prometheus.GaugeValue, float64(cl.PingBestMs), node, cl.Name)
				ch <- prometheus.MustNewConstMetric(c.pingAvgDesc, prometheus.GaugeValue, cl.PingAvgMs, node, cl.Name)
			}
		}
	}

	if c.timeouts != nil {
		ch <- prometheus.MustNewConstMetric(c.timeoutsDesc, prometheus.CounterValue, float64(c.timeouts.ClientTimeouts()))
	}
}
