package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Packet-in kinds
const (
	PacketInARPVIP   = "arp_vip"
	PacketInLearning = "learning"
	PacketInLLDP     = "lldp"
	PacketInDropped  = "dropped"
)

// Packet-out kinds
const (
	PacketOutUnicast  = "unicast"
	PacketOutFlood    = "flood"
	PacketOutARPReply = "arp_reply"
)

// Selection outcomes
const (
	SelectionUnique    = "unique"
	SelectionTieBroken = "tie_broken"
	SelectionFallback  = "fallback"
	SelectionError     = "error"
)

// Metrics collects controller metrics on a private Prometheus registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	packetIns      *prometheus.CounterVec
	flowInstalls   *prometheus.CounterVec
	packetOuts     *prometheus.CounterVec
	selections     *prometheus.CounterVec
	serverSelected *prometheus.CounterVec
	statsFetch     prometheus.Histogram
	learnedMACs    *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance with its own registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		packetIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdnlb",
			Name:      "packet_ins_total",
			Help:      "Packet-in events handled, by dispatch path.",
		}, []string{"kind"}),
		flowInstalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdnlb",
			Name:      "flow_installs_total",
			Help:      "Flow rules sent to switches, by priority.",
		}, []string{"priority"}),
		packetOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdnlb",
			Name:      "packet_outs_total",
			Help:      "Forward-packet directives sent to switches.",
		}, []string{"kind"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdnlb",
			Name:      "server_selections_total",
			Help:      "Load balancing decisions, by outcome.",
		}, []string{"outcome"}),
		serverSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdnlb",
			Name:      "server_selected_total",
			Help:      "Times each backend server was chosen.",
		}, []string{"server"}),
		statsFetch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sdnlb",
			Name:      "stats_fetch_duration_seconds",
			Help:      "Latency of monitoring fetches on the VIP ARP path.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		learnedMACs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sdnlb",
			Name:      "learned_macs",
			Help:      "MAC addresses learned per switch.",
		}, []string{"dpid"}),
	}

	m.registry.MustRegister(
		m.packetIns,
		m.flowInstalls,
		m.packetOuts,
		m.selections,
		m.serverSelected,
		m.statsFetch,
		m.learnedMACs,
	)
	return m
}

// Registry exposes the registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) PacketIn(kind string) {
	if m == nil {
		return
	}
	m.packetIns.WithLabelValues(kind).Inc()
}

func (m *Metrics) FlowInstalled(priority uint16) {
	if m == nil {
		return
	}
	m.flowInstalls.WithLabelValues(strconv.Itoa(int(priority))).Inc()
}

func (m *Metrics) PacketOut(kind string) {
	if m == nil {
		return
	}
	m.packetOuts.WithLabelValues(kind).Inc()
}

// Selection records the outcome of a selection and, when a server was
// chosen, the server id
func (m *Metrics) Selection(outcome, serverID string) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(outcome).Inc()
	if serverID != "" {
		m.serverSelected.WithLabelValues(serverID).Inc()
	}
}

func (m *Metrics) ObserveStatsFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.statsFetch.Observe(d.Seconds())
}

func (m *Metrics) SetLearnedMACs(dpid uint64, n int) {
	if m == nil {
		return
	}
	m.learnedMACs.WithLabelValues(dpidLabel(dpid)).Set(float64(n))
}

// ForgetSwitch drops the per-switch series
func (m *Metrics) ForgetSwitch(dpid uint64) {
	if m == nil {
		return
	}
	m.learnedMACs.DeleteLabelValues(dpidLabel(dpid))
}

func dpidLabel(dpid uint64) string {
	return fmt.Sprintf("%016x", dpid)
}
