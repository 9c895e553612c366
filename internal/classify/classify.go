// Package classify extracts the flow tuple spec.md §3/§4.6 describes from an
// inbound Ethernet frame, and builds the synthesized ARP responder frame.
// It replaces the original prototype's etherparse/pnet pair
// (l3enginemux/src/mux/fivetuple.rs) with gopacket and gopacket/layers,
// parsing frames via common/go/xpacket.ParseEtherPacket, the same helper
// used elsewhere in the teacher's tree.
package classify

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/vdp-project/govdp/common/go/xpacket"
	"github.com/vdp-project/govdp/internal/dperr"
)

// LocalIPMac is the dataplane's own address pair, used to decide whether an
// inbound frame is addressed to it.
type LocalIPMac struct {
	IP  net.IP
	MAC net.HardwareAddr
}

// FlowTuple is the per-frame classification result spec.md §3 names: source
// and destination MAC/IP, destination TCP port, and EtherType.
type FlowTuple struct {
	SrcMAC, DstMAC net.HardwareAddr
	SrcIP, DstIP   net.IP
	DstPort        uint16
	EtherType      uint16 // numeric value decoded from the big-endian wire field (0x0800 for IPv4)
}

// Parse decodes raw as an Ethernet frame, via xpacket.ParseEtherPacket (which
// zero-pads frames shorter than the minimum Ethernet length first --
// gopacket/gopacket#361: short frames otherwise fail to parse their trailing
// layers).
func Parse(raw []byte) (gopacket.Packet, error) {
	pkt := xpacket.ParseEtherPacket(raw)
	if err := pkt.ErrorLayer(); err != nil {
		return nil, fmt.Errorf("classify: parse: %w: %v", dperr.ErrReadError, err.Error())
	}
	return pkt, nil
}

// IsARP reports whether pkt's Ethernet payload is ARP.
func IsARP(pkt gopacket.Packet) bool {
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	return ok && eth.EthernetType == layers.EthernetTypeARP
}

// ARPLayer returns pkt's ARP layer, or nil if it has none.
func ARPLayer(pkt gopacket.Packet) *layers.ARP {
	arp, _ := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	return arp
}

// FiveTuple extracts a FlowTuple from pkt, which must be an
// Ethernet/IPv4/TCP frame addressed to local. UDP and IPv6 frames, and
// frames not addressed to local, are rejected -- matching
// fivetuple.rs::parse_pkt's "Ethernet2 -> IPv4-only -> TCP-only" chain and
// its local-address check.
func FiveTuple(local LocalIPMac, pkt gopacket.Packet) (FlowTuple, error) {
	var tuple FlowTuple

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return tuple, fmt.Errorf("classify: five_tuple: %w", dperr.ErrInvalidLink)
	}
	eth := ethLayer.(*layers.Ethernet)

	if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
		return tuple, fmt.Errorf("classify: five_tuple: %w", dperr.ErrNoIPv6)
	}

	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return tuple, fmt.Errorf("classify: five_tuple: %w", dperr.ErrInvalidIP)
	}
	ip := ipLayer.(*layers.IPv4)

	if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		return tuple, fmt.Errorf("classify: five_tuple: %w", dperr.ErrNoUDP)
	}

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return tuple, fmt.Errorf("classify: five_tuple: %w", dperr.ErrInvalidTransport)
	}
	tcp := tcpLayer.(*layers.TCP)

	if !macEqual(eth.DstMAC, local.MAC) {
		return tuple, fmt.Errorf("classify: five_tuple: %w", dperr.ErrWrongMAC)
	}
	if !ip.DstIP.Equal(local.IP) {
		return tuple, fmt.Errorf("classify: five_tuple: %w", dperr.ErrWrongIP)
	}

	tuple = FlowTuple{
		SrcMAC:    eth.SrcMAC,
		DstMAC:    eth.DstMAC,
		SrcIP:     ip.SrcIP,
		DstIP:     ip.DstIP,
		DstPort:   uint16(tcp.DstPort),
		EtherType: uint16(eth.EthernetType),
	}
	return tuple, nil
}

func macEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
