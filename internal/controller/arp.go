package controller

import (
	"context"
	"net"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	"github.com/mir00r/sdn-load-balancer/internal/service"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// ServerSelector chooses the backend that answers for the VIP
type ServerSelector interface {
	SelectServer(ctx context.Context) (*domain.LoadBalancingDecision, error)
}

// ArpInterceptor answers ARP requests for the VIP on behalf of the selected
// backend. The reply advertises the VIP itself as the sender protocol
// address, paired with the chosen server's MAC, so clients keep addressing
// the VIP and never learn the server's real IP. No flow is installed: every
// VIP ARP request reaches the controller and gets a fresh selection.
type ArpInterceptor struct {
	vip      net.IP
	selector ServerSelector
	codec    domain.FrameCodec
	flows    *FlowTableManager
	logger   *logger.Logger
}

// NewArpInterceptor creates an interceptor for vip
func NewArpInterceptor(vip net.IP, selector ServerSelector, codec domain.FrameCodec, flows *FlowTableManager, log *logger.Logger) *ArpInterceptor {
	return &ArpInterceptor{
		vip:      vip.To4(),
		selector: selector,
		codec:    codec,
		flows:    flows,
		logger:   log,
	}
}

// Matches reports whether frame is an ARP request for the VIP
func (a *ArpInterceptor) Matches(frame *domain.Frame) bool {
	return frame.ARP != nil &&
		frame.ARP.Operation == domain.ARPOpRequest &&
		frame.ARP.TargetIP.Equal(a.vip)
}

// Handle selects a server and sends the synthesized reply out of the port
// the request arrived on. A failed selection sends nothing.
func (a *ArpInterceptor) Handle(ctx context.Context, ev domain.PacketIn, frame *domain.Frame) error {
	log := a.logger.WithField("in_port", ev.InPort).
		WithField("requester", frame.ARP.SenderIP.String())
	log.Info("Received ARP request for VIP")

	decision, err := a.selector.SelectServer(ctx)
	if err != nil {
		log.WithError(err).Warn("Server selection failed, ARP request left unanswered")
		return err
	}
	chosen := decision.Chosen

	reply, err := a.codec.EncodeARPReply(domain.ARPReply{
		EthSrc:    chosen.MAC,
		EthDst:    frame.EthSrc,
		SenderMAC: chosen.MAC,
		SenderIP:  a.vip,
		TargetMAC: frame.ARP.SenderMAC,
		TargetIP:  frame.ARP.SenderIP,
	})
	if err != nil {
		return err
	}

	if err := a.flows.SendFrame(ctx, ev.Datapath, ev.InPort, reply, service.PacketOutARPReply); err != nil {
		return err
	}

	log.WithField("server_id", chosen.ID).
		WithField("server_mac", chosen.MAC.String()).
		WithField("tied", len(decision.TieBrokenAmong)).
		Info("ARP reply sent for VIP")
	return nil
}
