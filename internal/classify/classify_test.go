package classify

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdp-project/govdp/common/go/xerror"
	"github.com/vdp-project/govdp/internal/classify/classifytest"
	"github.com/vdp-project/govdp/internal/dperr"
)

var (
	localMAC = xerror.Unwrap(net.ParseMAC("90:e2:ba:87:6b:e8"))
	localIP  = net.IPv4(192, 168, 1, 2)
	peerMAC  = xerror.Unwrap(net.ParseMAC("02:00:00:00:00:01"))
	peerIP   = net.IPv4(192, 168, 1, 100)
)

func local() LocalIPMac { return LocalIPMac{IP: localIP, MAC: localMAC} }

func TestFiveTupleAcceptsAddressedTCP(t *testing.T) {
	raw, err := classifytest.TCPFrame(peerMAC, localMAC, peerIP, localIP, 51000, 443, []byte("x"))
	require.NoError(t, err)

	pkt, err := Parse(raw)
	require.NoError(t, err)

	tuple, err := FiveTuple(local(), pkt)
	require.NoError(t, err)

	assert.Equal(t, peerMAC, tuple.SrcMAC)
	assert.Equal(t, localMAC, tuple.DstMAC)
	assert.True(t, tuple.SrcIP.Equal(peerIP))
	assert.True(t, tuple.DstIP.Equal(localIP))
	assert.Equal(t, uint16(443), tuple.DstPort)
}

func TestFiveTupleRejectsWrongDestinationMAC(t *testing.T) {
	other := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	raw, err := classifytest.TCPFrame(peerMAC, other, peerIP, localIP, 51000, 443, nil)
	require.NoError(t, err)

	pkt, err := Parse(raw)
	require.NoError(t, err)

	_, err = FiveTuple(local(), pkt)
	assert.ErrorIs(t, err, dperr.ErrWrongMAC)
}

func TestFiveTupleRejectsWrongDestinationIP(t *testing.T) {
	otherIP := net.IPv4(192, 168, 1, 200)
	raw, err := classifytest.TCPFrame(peerMAC, localMAC, peerIP, otherIP, 51000, 443, nil)
	require.NoError(t, err)

	pkt, err := Parse(raw)
	require.NoError(t, err)

	_, err = FiveTuple(local(), pkt)
	assert.ErrorIs(t, err, dperr.ErrWrongIP)
}

func TestFiveTupleRejectsUDP(t *testing.T) {
	raw, err := classifytest.UDPFrame(peerMAC, localMAC, peerIP, localIP, 5000, 53)
	require.NoError(t, err)

	pkt, err := Parse(raw)
	require.NoError(t, err)

	_, err = FiveTuple(local(), pkt)
	assert.ErrorIs(t, err, dperr.ErrNoUDP)
}

func TestFiveTupleStructuralMatch(t *testing.T) {
	raw, err := classifytest.TCPFrame(peerMAC, localMAC, peerIP, localIP, 51000, 443, []byte("x"))
	require.NoError(t, err)

	pkt, err := Parse(raw)
	require.NoError(t, err)

	tuple, err := FiveTuple(local(), pkt)
	require.NoError(t, err)

	want := FlowTuple{
		SrcMAC:    peerMAC,
		DstMAC:    localMAC,
		SrcIP:     peerIP.To4(),
		DstIP:     localIP.To4(),
		DstPort:   443,
		EtherType: uint16(layers.EthernetTypeIPv4),
	}
	if diff := cmp.Diff(want, tuple); diff != "" {
		t.Errorf("FiveTuple() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsARPAndBuildReplyShape(t *testing.T) {
	raw, err := classifytest.ARPRequestFrame(peerMAC, peerIP, localIP)
	require.NoError(t, err)

	pkt, err := Parse(raw)
	require.NoError(t, err)
	require.True(t, IsARP(pkt))

	arp := ARPLayer(pkt)
	require.NotNil(t, arp)

	reply, err := BuildARPReply(local(), arp)
	require.NoError(t, err)
	assert.Len(t, reply, 42)

	replyPkt, err := Parse(reply)
	require.NoError(t, err)
	replyARP := ARPLayer(replyPkt)
	require.NotNil(t, replyARP)

	assert.Equal(t, uint16(layers.ARPRequest), replyARP.Operation, "operation is intentionally Request, not Reply")
	assert.Equal(t, []byte(localMAC), replyARP.SourceHwAddress)
	assert.True(t, net.IP(replyARP.SourceProtAddress).Equal(localIP.To4()))
	assert.True(t, net.IP(replyARP.DstProtAddress).Equal(peerIP.To4()))
}
