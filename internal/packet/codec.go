// Package packet decodes packet-in payloads and builds the frames the
// controller sends back to switches.
package packet

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
)

// Codec implements domain.FrameCodec on top of gopacket
type Codec struct {
	serializeOpts gopacket.SerializeOptions
}

// NewCodec creates a frame codec
func NewCodec() *Codec {
	return &Codec{
		serializeOpts: gopacket.SerializeOptions{
			FixLengths:       true,
			ComputeChecksums: true,
		},
	}
}

// Decode reads the Ethernet header and, for ARP frames, the ARP payload.
// A frame whose ARP payload is malformed is still returned with ARP unset so
// it can be switched normally.
func (c *Codec) Decode(data []byte) (*domain.Frame, error) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		var cause error = fmt.Errorf("no ethernet header in %d bytes", len(data))
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			cause = errLayer.Error()
		}
		return nil, cerrors.WrapError(cause, cerrors.ErrCodeFrameDecode, "codec", "cannot decode frame")
	}
	eth := ethLayer.(*layers.Ethernet)

	frame := &domain.Frame{
		EthSrc:    cloneMAC(eth.SrcMAC),
		EthDst:    cloneMAC(eth.DstMAC),
		EtherType: uint16(eth.EthernetType),
	}

	if eth.EthernetType != layers.EthernetTypeARP {
		return frame, nil
	}

	if arpLayer := pkt.Layer(layers.LayerTypeARP); arpLayer != nil {
		arp := arpLayer.(*layers.ARP)
		frame.ARP = &domain.ARPHeader{
			Operation: domain.ARPOperation(arp.Operation),
			SenderMAC: cloneMAC(arp.SourceHwAddress),
			SenderIP:  cloneIP(arp.SourceProtAddress),
			TargetMAC: cloneMAC(arp.DstHwAddress),
			TargetIP:  cloneIP(arp.DstProtAddress),
		}
	}

	return frame, nil
}

// EncodeARPReply serializes an Ethernet frame carrying an ARP reply
func (c *Codec) EncodeARPReply(reply domain.ARPReply) ([]byte, error) {
	senderIP := reply.SenderIP.To4()
	targetIP := reply.TargetIP.To4()
	if senderIP == nil || targetIP == nil {
		return nil, cerrors.NewError(cerrors.ErrCodeFrameEncode, "codec",
			fmt.Sprintf("ARP reply needs IPv4 addresses, got sender=%v target=%v", reply.SenderIP, reply.TargetIP))
	}
	if len(reply.SenderMAC) != 6 || len(reply.TargetMAC) != 6 {
		return nil, cerrors.NewError(cerrors.ErrCodeFrameEncode, "codec",
			fmt.Sprintf("ARP reply needs Ethernet addresses, got sender=%v target=%v", reply.SenderMAC, reply.TargetMAC))
	}

	eth := &layers.Ethernet{
		SrcMAC:       reply.EthSrc,
		DstMAC:       reply.EthDst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   reply.SenderMAC,
		SourceProtAddress: senderIP,
		DstHwAddress:      reply.TargetMAC,
		DstProtAddress:    targetIP,
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, c.serializeOpts, eth, arp); err != nil {
		return nil, cerrors.WrapError(err, cerrors.ErrCodeFrameEncode, "codec", "cannot serialize ARP reply")
	}
	return buf.Bytes(), nil
}

// NoCopy decoding aliases the packet-in buffer, so anything kept past the
// event is copied.
func cloneMAC(b []byte) net.HardwareAddr {
	if len(b) == 0 {
		return nil
	}
	out := make(net.HardwareAddr, len(b))
	copy(out, b)
	return out
}

func cloneIP(b []byte) net.IP {
	if len(b) == 0 {
		return nil
	}
	out := make(net.IP, len(b))
	copy(out, b)
	return out
}
