// Package datapath provides switch handles that do not speak to hardware.
package datapath

import (
	"context"
	"sync"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// DirectiveKind tells the two directive types apart in a recording
type DirectiveKind string

const (
	DirectiveFlow   DirectiveKind = "flow_mod"
	DirectivePacket DirectiveKind = "packet_out"
)

// Directive is one recorded message to the switch. Exactly one of Flow and
// Packet is set.
type Directive struct {
	Kind   DirectiveKind     `json:"kind"`
	Flow   *domain.FlowRule  `json:"flow,omitempty"`
	Packet *domain.PacketOut `json:"packet,omitempty"`
}

// Recorder is a domain.Datapath that keeps every directive it receives in
// order. It backs offline replay and tests.
type Recorder struct {
	dpid   uint64
	logger *logger.Logger

	mu         sync.Mutex
	directives []Directive
	flowErr    error
	packetErr  error
}

// NewRecorder creates a recorder for dpid
func NewRecorder(dpid uint64, log *logger.Logger) *Recorder {
	return &Recorder{
		dpid:   dpid,
		logger: log.SwitchLogger(dpid),
	}
}

// ID returns the datapath id
func (r *Recorder) ID() uint64 {
	return r.dpid
}

// InstallFlow records a flow rule
func (r *Recorder) InstallFlow(ctx context.Context, rule domain.FlowRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.flowErr != nil {
		return r.flowErr
	}
	r.directives = append(r.directives, Directive{Kind: DirectiveFlow, Flow: &rule})

	r.logger.WithFields(map[string]interface{}{
		"priority":  rule.Priority,
		"in_port":   rule.Match.InPort,
		"eth_src":   rule.Match.EthSrc.String(),
		"eth_dst":   rule.Match.EthDst.String(),
		"buffer_id": rule.BufferID,
	}).Debug("flow_mod")
	return nil
}

// SendPacket records a packet-out
func (r *Recorder) SendPacket(ctx context.Context, out domain.PacketOut) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.packetErr != nil {
		return r.packetErr
	}
	r.directives = append(r.directives, Directive{Kind: DirectivePacket, Packet: &out})

	var port uint32
	if len(out.Actions) > 0 {
		port = out.Actions[0].Port
	}
	r.logger.WithFields(map[string]interface{}{
		"in_port":   out.InPort,
		"out_port":  port,
		"buffer_id": out.BufferID,
		"bytes":     len(out.Data),
	}).Debug("packet_out")
	return nil
}

// FailFlowsWith makes every later InstallFlow fail with err. nil restores
// normal behaviour.
func (r *Recorder) FailFlowsWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flowErr = err
}

// FailPacketsWith makes every later SendPacket fail with err
func (r *Recorder) FailPacketsWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packetErr = err
}

// Directives returns a copy of everything recorded so far
func (r *Recorder) Directives() []Directive {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Directive, len(r.directives))
	copy(out, r.directives)
	return out
}

// Flows returns the recorded flow rules in order
func (r *Recorder) Flows() []domain.FlowRule {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flows []domain.FlowRule
	for _, d := range r.directives {
		if d.Flow != nil {
			flows = append(flows, *d.Flow)
		}
	}
	return flows
}

// Packets returns the recorded packet-outs in order
func (r *Recorder) Packets() []domain.PacketOut {
	r.mu.Lock()
	defer r.mu.Unlock()

	var packets []domain.PacketOut
	for _, d := range r.directives {
		if d.Packet != nil {
			packets = append(packets, *d.Packet)
		}
	}
	return packets
}

// Reset clears the recording
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directives = nil
}
