// Package controller reacts to switch events: it installs the table-miss rule
// on connection, answers ARP requests for the VIP with a load balanced
// backend, and otherwise acts as a MAC learning switch.
package controller

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/internal/repository"
	"github.com/mir00r/sdn-load-balancer/internal/service"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// Config holds the controller settings
type Config struct {
	VIP net.IP
	// EvictOnDisconnect drops a switch's learned addresses when its
	// connection goes down. Off by default: entries survive reconnects.
	EvictOnDisconnect bool
	FlowIdleTimeout   uint16
	FlowHardTimeout   uint16
}

type switchInfo struct {
	state       domain.SwitchState
	connectedAt time.Time
}

// SwitchStatus is a point in time view of one switch
type SwitchStatus struct {
	DPID        string    `json:"dpid"`
	State       string    `json:"state"`
	LearnedMACs int       `json:"learned_macs"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Controller dispatches switch events. It owns the MAC learning table and the
// per-switch connection state; events from different switches may be
// handled concurrently.
type Controller struct {
	config  Config
	table   *repository.MacLearningTable
	flows   *FlowTableManager
	arp     *ArpInterceptor
	codec   domain.FrameCodec
	metrics *service.Metrics
	logger  *logger.Logger

	mu       sync.RWMutex
	switches map[uint64]*switchInfo
}

// New creates a controller. metrics may be nil.
func New(cfg Config, selector ServerSelector, codec domain.FrameCodec, metrics *service.Metrics, log *logger.Logger) (*Controller, error) {
	if cfg.VIP == nil || cfg.VIP.To4() == nil {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "controller",
			fmt.Sprintf("VIP must be an IPv4 address, got %v", cfg.VIP))
	}
	if selector == nil || codec == nil {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "controller", "selector and codec are required")
	}

	flows := NewFlowTableManager(cfg.FlowIdleTimeout, cfg.FlowHardTimeout, metrics)
	ctrlLogger := log.ControllerLogger()

	return &Controller{
		config:   cfg,
		table:    repository.NewMacLearningTable(),
		flows:    flows,
		arp:      NewArpInterceptor(cfg.VIP, selector, codec, flows, ctrlLogger),
		codec:    codec,
		metrics:  metrics,
		logger:   ctrlLogger,
		switches: make(map[uint64]*switchInfo),
	}, nil
}

// HandleEvent routes one switch event
func (c *Controller) HandleEvent(ctx context.Context, ev domain.SwitchEvent) error {
	switch e := ev.(type) {
	case domain.ConnectionUp:
		return c.handleConnectionUp(ctx, e)
	case domain.PacketIn:
		return c.handlePacketIn(ctx, e)
	case domain.ConnectionDown:
		return c.handleConnectionDown(e)
	default:
		return fmt.Errorf("unsupported switch event %T", ev)
	}
}

func (c *Controller) handleConnectionUp(ctx context.Context, ev domain.ConnectionUp) error {
	dpid := ev.Datapath.ID()
	log := c.logger.SwitchLogger(dpid)

	c.setState(dpid, domain.SwitchConfiguring)

	if err := c.flows.InstallTableMiss(ctx, ev.Datapath); err != nil {
		log.WithError(err).Error("Failed to install table-miss flow")
		return err
	}

	c.setState(dpid, domain.SwitchActive)
	log.Info("Switch connected, table-miss flow installed")
	return nil
}

func (c *Controller) handlePacketIn(ctx context.Context, ev domain.PacketIn) error {
	dpid := ev.Datapath.ID()
	log := c.logger.SwitchLogger(dpid)

	if err := c.requireActive(dpid); err != nil {
		c.metrics.PacketIn(service.PacketInDropped)
		log.WithError(err).Warn("Dropping packet-in")
		return err
	}

	// Truncated unbuffered packets are still forwarded with the bytes we got
	if ev.Truncated() {
		log.Debugf("packet truncated: only %d of %d bytes", len(ev.Data), ev.TotalLen)
	}

	frame, err := c.codec.Decode(ev.Data)
	if err != nil {
		c.metrics.PacketIn(service.PacketInDropped)
		log.WithError(err).Warn("Dropping undecodable packet-in")
		return err
	}

	if frame.IsLLDP() {
		c.metrics.PacketIn(service.PacketInLLDP)
		return nil
	}

	if c.arp.Matches(frame) {
		c.metrics.PacketIn(service.PacketInARPVIP)
		return c.arp.Handle(ctx, ev, frame)
	}

	c.metrics.PacketIn(service.PacketInLearning)
	log.Infof("packet in %016x %s %s %d", dpid, frame.EthSrc, frame.EthDst, ev.InPort)

	outPort, known := c.table.LearnAndLookup(dpid, frame.EthSrc, ev.InPort, frame.EthDst)
	c.metrics.SetLearnedMACs(dpid, c.table.Count(dpid))

	return c.flows.Forward(ctx, ev, frame.EthSrc, frame.EthDst, outPort, known)
}

func (c *Controller) handleConnectionDown(ev domain.ConnectionDown) error {
	dpid := ev.DPID
	log := c.logger.SwitchLogger(dpid)

	c.setState(dpid, domain.SwitchDisconnected)

	if c.config.EvictOnDisconnect {
		n := c.table.Forget(dpid)
		c.metrics.ForgetSwitch(dpid)
		log.WithField("evicted", n).Info("Switch disconnected, learned addresses evicted")
		return nil
	}

	log.WithField("retained", c.table.Count(dpid)).Info("Switch disconnected")
	return nil
}

func (c *Controller) setState(dpid uint64, state domain.SwitchState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, exists := c.switches[dpid]
	if !exists {
		info = &switchInfo{state: domain.SwitchConnecting}
		c.switches[dpid] = info
	}
	if state == domain.SwitchConfiguring {
		info.connectedAt = time.Now()
	}
	info.state = state
}

// State returns the connection state of a switch
func (c *Controller) State(dpid uint64) (domain.SwitchState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, exists := c.switches[dpid]
	if !exists {
		return domain.SwitchConnecting, false
	}
	return info.state, true
}

func (c *Controller) requireActive(dpid uint64) error {
	state, known := c.State(dpid)
	if !known {
		return cerrors.NewUnknownSwitchError(dpid)
	}
	if state != domain.SwitchActive {
		return cerrors.NewSwitchNotReadyError(dpid, state.String())
	}
	return nil
}

// Switches summarizes every switch seen since start, ordered by dpid
func (c *Controller) Switches() []SwitchStatus {
	c.mu.RLock()
	dpids := make([]uint64, 0, len(c.switches))
	infos := make(map[uint64]switchInfo, len(c.switches))
	for dpid, info := range c.switches {
		dpids = append(dpids, dpid)
		infos[dpid] = *info
	}
	c.mu.RUnlock()

	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })

	statuses := make([]SwitchStatus, 0, len(dpids))
	for _, dpid := range dpids {
		info := infos[dpid]
		statuses = append(statuses, SwitchStatus{
			DPID:        fmt.Sprintf("%016x", dpid),
			State:       info.state.String(),
			LearnedMACs: c.table.Count(dpid),
			ConnectedAt: info.connectedAt,
		})
	}
	return statuses
}

// LearnedAddresses returns the learning table of one switch
func (c *Controller) LearnedAddresses(dpid uint64) ([]repository.MacEntry, error) {
	if _, known := c.State(dpid); !known {
		return nil, cerrors.NewUnknownSwitchError(dpid)
	}
	return c.table.Entries(dpid), nil
}

// ForgetAddresses explicitly evicts the learning table of one switch and
// returns the number of entries removed
func (c *Controller) ForgetAddresses(dpid uint64) (int, error) {
	if _, known := c.State(dpid); !known {
		return 0, cerrors.NewUnknownSwitchError(dpid)
	}

	n := c.table.Forget(dpid)
	c.metrics.ForgetSwitch(dpid)
	c.logger.SwitchLogger(dpid).WithField("evicted", n).Info("Learned addresses evicted")
	return n, nil
}
