package controller

import (
	"context"
	"net"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/internal/service"
)

// FlowTableManager turns forwarding decisions into directives for a switch.
// A flow install and its accompanying packet-out are independent sends; a
// failure of the second does not undo the first.
type FlowTableManager struct {
	idleTimeout uint16
	hardTimeout uint16
	metrics     *service.Metrics
}

// NewFlowTableManager creates a manager. Zero timeouts install permanent
// rules and leave expiry to the switch's own table policy.
func NewFlowTableManager(idleTimeout, hardTimeout uint16, metrics *service.Metrics) *FlowTableManager {
	return &FlowTableManager{
		idleTimeout: idleTimeout,
		hardTimeout: hardTimeout,
		metrics:     metrics,
	}
}

// InstallTableMiss installs the match-all priority 0 rule that sends whole
// packets to the controller
func (m *FlowTableManager) InstallTableMiss(ctx context.Context, dp domain.Datapath) error {
	rule := domain.FlowRule{
		Priority: domain.PriorityTableMiss,
		Match:    domain.Match{},
		Actions: []domain.ActionOutput{{
			Port:   domain.PortController,
			MaxLen: domain.ControllerMaxLenNoBuffer,
		}},
		BufferID: domain.NoBuffer,
	}
	return m.install(ctx, dp, rule)
}

// Forward handles a learning-switch decision for one packet-in. With a known
// outPort it installs a priority 1 rule for (inPort, src, dst); the rule
// releases the switch buffer when there is one, otherwise the packet is also
// sent with a packet-out. Without a known port the packet is flooded and no
// rule is installed.
func (m *FlowTableManager) Forward(ctx context.Context, ev domain.PacketIn, src, dst net.HardwareAddr, outPort uint32, known bool) error {
	dp := ev.Datapath

	if !known {
		return m.packetOut(ctx, dp, ev, domain.PortFlood, service.PacketOutFlood)
	}

	rule := domain.FlowRule{
		Priority: domain.PriorityLearned,
		Match: domain.Match{
			InPort: ev.InPort,
			EthSrc: src,
			EthDst: dst,
		},
		Actions:     []domain.ActionOutput{{Port: outPort}},
		BufferID:    domain.NoBuffer,
		IdleTimeout: m.idleTimeout,
		HardTimeout: m.hardTimeout,
	}

	if ev.BufferID != domain.NoBuffer {
		rule.BufferID = ev.BufferID
		return m.install(ctx, dp, rule)
	}

	if err := m.install(ctx, dp, rule); err != nil {
		return err
	}
	return m.packetOut(ctx, dp, ev, outPort, service.PacketOutUnicast)
}

// SendFrame emits a controller-built frame out of port. The frame is carried
// in full.
func (m *FlowTableManager) SendFrame(ctx context.Context, dp domain.Datapath, port uint32, frame []byte, kind string) error {
	out := domain.PacketOut{
		BufferID: domain.NoBuffer,
		InPort:   domain.PortController,
		Actions:  []domain.ActionOutput{{Port: port}},
		Data:     frame,
	}
	if err := dp.SendPacket(ctx, out); err != nil {
		return cerrors.NewDirectiveError(cerrors.ErrCodePacketOut, dp.ID(), err)
	}
	m.metrics.PacketOut(kind)
	return nil
}

func (m *FlowTableManager) install(ctx context.Context, dp domain.Datapath, rule domain.FlowRule) error {
	if err := dp.InstallFlow(ctx, rule); err != nil {
		return cerrors.NewDirectiveError(cerrors.ErrCodeFlowInstall, dp.ID(), err).
			WithMetadata("priority", rule.Priority)
	}
	m.metrics.FlowInstalled(rule.Priority)
	return nil
}

// packetOut re-emits the packet-in, reusing the switch buffer when present
func (m *FlowTableManager) packetOut(ctx context.Context, dp domain.Datapath, ev domain.PacketIn, port uint32, kind string) error {
	out := domain.PacketOut{
		BufferID: ev.BufferID,
		InPort:   ev.InPort,
		Actions:  []domain.ActionOutput{{Port: port}},
	}
	if ev.BufferID == domain.NoBuffer {
		out.Data = ev.Data
	}

	if err := dp.SendPacket(ctx, out); err != nil {
		return cerrors.NewDirectiveError(cerrors.ErrCodePacketOut, dp.ID(), err)
	}
	m.metrics.PacketOut(kind)
	return nil
}
