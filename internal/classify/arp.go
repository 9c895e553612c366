package classify

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
var zeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// arpReplyLen is the 14-byte Ethernet header plus the 28-byte ARP message.
const arpReplyLen = 14 + 28

// BuildARPReply synthesizes the 42-byte broadcast ARP frame this dataplane
// sends in response to an inbound ARP request, built on
// gopacket.SerializeLayers rather than hand-packed byte offsets.
//
// The operation field is set to ARPRequest, not ARPReply. This mirrors
// fivetuple.rs::handle_arp in the original prototype exactly and is a known
// deviation from RFC 826 (a reply should carry opcode 2); spec.md's design
// notes (§9) flag it as a likely defect but pin the §4.6 wire contract to
// this exact shape, which is also what Testable Property #8 checks, so it
// is retained rather than silently "fixed".
func BuildARPReply(local LocalIPMac, requestARP *layers.ARP) ([]byte, error) {
	localIP4 := local.IP.To4()
	if localIP4 == nil {
		return nil, fmt.Errorf("classify: build_arp_reply: local IP %s is not IPv4", local.IP)
	}

	eth := &layers.Ethernet{
		DstMAC:       broadcastMAC,
		SrcMAC:       local.MAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(local.MAC),
		SourceProtAddress: []byte(localIP4),
		DstHwAddress:      []byte(zeroMAC),
		DstProtAddress:    []byte(requestARP.SourceProtAddress),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, fmt.Errorf("classify: build_arp_reply: serialize: %w", err)
	}

	// The Ethernet layer pads its serialized frame to the 60-byte minimum;
	// the reply is trimmed back to header plus ARP message.
	return buf.Bytes()[:arpReplyLen], nil
}
