package domain

import (
	"context"
	"net"
)

// Reserved OpenFlow 1.3 port numbers and buffer markers used by directives
const (
	// PortInPort sends the packet back out of its ingress port
	PortInPort uint32 = 0xfffffff8
	// PortFlood floods the packet on all ports except the ingress port
	PortFlood uint32 = 0xfffffffb
	// PortController punts the packet to the controller
	PortController uint32 = 0xfffffffd

	// NoBuffer marks a packet that is carried in full rather than held in a
	// switch buffer
	NoBuffer uint32 = 0xffffffff

	// ControllerMaxLenNoBuffer asks the switch to send the whole packet to the
	// controller without buffering or truncation
	ControllerMaxLenNoBuffer uint16 = 0xffff
)

// Flow priorities owned by the controller
const (
	PriorityTableMiss uint16 = 0
	PriorityLearned   uint16 = 1
)

// ServerRecord is one backend entry of a monitoring snapshot
type ServerRecord struct {
	ID      string           `json:"id"`
	MAC     net.HardwareAddr `json:"mac"`
	IP      net.IP           `json:"ip"`
	CPULoad float64          `json:"cpu"`
	MemLoad float64          `json:"mem"`
}

// ServerSnapshot maps server id to its current record. A snapshot is fetched
// fresh for every selection and never retained.
type ServerSnapshot map[string]ServerRecord

// LoadBalancingDecision is the outcome of a single server selection
type LoadBalancingDecision struct {
	Chosen ServerRecord `json:"chosen"`
	// TieBrokenAmong holds every server that shared the minimal load,
	// including Chosen. It has a single member when the minimum was unique.
	TieBrokenAmong []ServerRecord `json:"tie_broken_among"`
	// Fallback is set when Chosen is the broadcast sentinel returned for an
	// empty snapshot under the broadcast policy.
	Fallback bool `json:"fallback,omitempty"`
}

// Match holds flow match criteria. Zero values are wildcards, so the zero
// Match matches every packet.
type Match struct {
	InPort uint32           `json:"in_port,omitempty"`
	EthSrc net.HardwareAddr `json:"eth_src,omitempty"`
	EthDst net.HardwareAddr `json:"eth_dst,omitempty"`
}

// IsMatchAll reports whether m wildcards every field
func (m Match) IsMatchAll() bool {
	return m.InPort == 0 && len(m.EthSrc) == 0 && len(m.EthDst) == 0
}

// ActionOutput forwards a packet to a port. MaxLen only matters for
// PortController.
type ActionOutput struct {
	Port   uint32 `json:"port"`
	MaxLen uint16 `json:"max_len,omitempty"`
}

// FlowRule is an install-flow directive
type FlowRule struct {
	Priority    uint16         `json:"priority"`
	Match       Match          `json:"match"`
	Actions     []ActionOutput `json:"actions"`
	BufferID    uint32         `json:"buffer_id"`
	IdleTimeout uint16         `json:"idle_timeout,omitempty"`
	HardTimeout uint16         `json:"hard_timeout,omitempty"`
}

// PacketOut is a forward-packet directive. Data is only carried when
// BufferID is NoBuffer.
type PacketOut struct {
	BufferID uint32         `json:"buffer_id"`
	InPort   uint32         `json:"in_port"`
	Actions  []ActionOutput `json:"actions"`
	Data     []byte         `json:"data,omitempty"`
}

// Datapath is the write side of a switch connection. Directives are fire and
// forget; an error means the transport refused the message.
type Datapath interface {
	ID() uint64
	InstallFlow(ctx context.Context, rule FlowRule) error
	SendPacket(ctx context.Context, out PacketOut) error
}

// ServerStatsClient fetches the current load of every backend server
type ServerStatsClient interface {
	FetchServers(ctx context.Context) (ServerSnapshot, error)
}

// ARPOperation values as carried on the wire
type ARPOperation uint16

const (
	ARPOpRequest ARPOperation = 1
	ARPOpReply   ARPOperation = 2
)

// EtherType values the controller cares about
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeLLDP uint16 = 0x88cc
)

// ARPHeader is the decoded ARP payload of a frame
type ARPHeader struct {
	Operation ARPOperation
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// Frame is the minimal decoded view of a packet-in payload
type Frame struct {
	EthSrc    net.HardwareAddr
	EthDst    net.HardwareAddr
	EtherType uint16
	ARP       *ARPHeader
}

// IsLLDP reports whether the frame is a link discovery frame
func (f *Frame) IsLLDP() bool {
	return f.EtherType == EtherTypeLLDP
}

// ARPReply describes a synthesized reply frame
type ARPReply struct {
	EthSrc    net.HardwareAddr
	EthDst    net.HardwareAddr
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// FrameCodec decodes packet-in payloads and encodes synthesized frames
type FrameCodec interface {
	Decode(data []byte) (*Frame, error)
	EncodeARPReply(reply ARPReply) ([]byte, error)
}
