// Package packettest builds raw frames for tests.
package packettest

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var opts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

// MustMAC parses a hardware address or panics
func MustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

// ARP builds an Ethernet frame carrying an ARP message
func ARP(op uint16, srcMAC net.HardwareAddr, srcIP net.IP, dstMAC net.HardwareAddr, targetIP net.IP) []byte {
	ethDst := dstMAC
	targetMAC := dstMAC
	if op == layers.ARPRequest {
		ethDst = layers.EthernetBroadcast
		targetMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}
	}

	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      targetMAC,
		DstProtAddress:    targetIP.To4(),
	}
	return serialize(eth, arp)
}

// Ethernet builds a frame with the given ethertype and payload
func Ethernet(src, dst net.HardwareAddr, etherType layers.EthernetType, payload []byte) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: etherType,
	}
	return serialize(eth, gopacket.Payload(payload))
}

// IPv4 builds a unicast IPv4 frame between two hosts
func IPv4(src, dst net.HardwareAddr, srcIP, dstIP net.IP) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 9}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return serialize(eth, ip, udp, gopacket.Payload([]byte("ping")))
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
