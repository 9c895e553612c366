// Package classifytest builds synthetic Ethernet/ARP/TCP frames for
// internal/classify's tests, serializing each via
// common/go/xpacket.LayersToPacketChecked -- the non-testing.T-bound variant
// of the teacher's own LayersToPacket helper, reused here so test fixture
// construction can return an error instead of failing the test directly.
package classifytest

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/vdp-project/govdp/common/go/xpacket"
)

// TCPFrame builds a well-formed Ethernet/IPv4/TCP frame.
func TCPFrame(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: srcIP, DstIP: dstIP}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: true}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("classifytest: set checksum network layer: %w", err)
	}

	return serialize(eth, ip, tcp, gopacket.Payload(payload))
}

// UDPFrame builds a well-formed Ethernet/IPv4/UDP frame, used to exercise
// the "UDP is rejected" edge case.
func UDPFrame(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16) ([]byte, error) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: srcIP, DstIP: dstIP}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("classifytest: set checksum network layer: %w", err)
	}

	return serialize(eth, ip, udp)
}

// ARPRequestFrame builds a broadcast ARP request frame asking for
// targetIP, as if sent by (senderMAC, senderIP).
func ARPRequestFrame(senderMAC net.HardwareAddr, senderIP net.IP, targetIP net.IP) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       senderMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(senderMAC),
		SourceProtAddress: []byte(senderIP.To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(targetIP.To4()),
	}

	return serialize(eth, arp)
}

// serialize builds lyrs into a frame via xpacket.LayersToPacketChecked,
// which serializes and immediately re-parses to catch malformed layer
// combinations, then returns the wire bytes for classify.Parse to consume.
func serialize(lyrs ...gopacket.SerializableLayer) ([]byte, error) {
	pkt, err := xpacket.LayersToPacketChecked(lyrs...)
	if err != nil {
		return nil, fmt.Errorf("classifytest: serialize: %w", err)
	}
	return pkt.Data(), nil
}
