// Package decoder turns captured link-layer frames into TCP segments.
package decoder

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/resmeter/internal/core"
)

// Decoder decodes raw packets into TCP segments. It reuses its layer buffers
// and is not safe for concurrent use.
type Decoder struct {
	eth  layers.Ethernet
	sll  layers.LinuxSLL
	loop layers.Loopback
	ip4  layers.IPv4
	ip6  layers.IPv6
	tcp  layers.TCP
	udp  layers.UDP

	parsers map[gopacket.LayerType]*gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// New creates a decoder for Ethernet, Linux SLL, loopback and raw IP frames.
func New() *Decoder {
	d := &Decoder{
		parsers: make(map[gopacket.LayerType]*gopacket.DecodingLayerParser),
		decoded: make([]gopacket.LayerType, 0, 8),
	}
	for _, first := range []gopacket.LayerType{
		layers.LayerTypeEthernet,
		layers.LayerTypeLinuxSLL,
		layers.LayerTypeLoopback,
		layers.LayerTypeIPv4,
		layers.LayerTypeIPv6,
	} {
		p := gopacket.NewDecodingLayerParser(first,
			&d.eth, &d.sll, &d.loop, &d.ip4, &d.ip6, &d.tcp, &d.udp)
		p.IgnoreUnsupported = true
		d.parsers[first] = p
	}
	return d
}

func (d *Decoder) firstLayer(raw core.RawPacket) gopacket.LayerType {
	switch raw.LinkType {
	case core.LinkLinuxSLL:
		return layers.LayerTypeLinuxSLL
	case core.LinkLoopback:
		return layers.LayerTypeLoopback
	case core.LinkRawIP:
		if len(raw.Data) > 0 && raw.Data[0]>>4 == 6 {
			return layers.LayerTypeIPv6
		}
		return layers.LayerTypeIPv4
	default:
		return layers.LayerTypeEthernet
	}
}

// Decode extracts the TCP segment carried by raw. The returned payload is a
// copy and stays valid after the capture buffer is reused.
func (d *Decoder) Decode(raw core.RawPacket) (core.Segment, error) {
	parser := d.parsers[d.firstLayer(raw)]
	err := parser.DecodeLayers(raw.Data, &d.decoded)

	var (
		seg              core.Segment
		sawIP, sawTCP    bool
		srcAddr, dstAddr netip.Addr
	)
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			if d.ip4.Flags&layers.IPv4MoreFragments != 0 || d.ip4.FragOffset != 0 {
				return seg, fmt.Errorf("%w: ipv4 fragment", core.ErrUnsupportedProto)
			}
			srcAddr, _ = netip.AddrFromSlice(d.ip4.SrcIP.To4())
			dstAddr, _ = netip.AddrFromSlice(d.ip4.DstIP.To4())
			sawIP = true
		case layers.LayerTypeIPv6:
			srcAddr, _ = netip.AddrFromSlice(d.ip6.SrcIP)
			dstAddr, _ = netip.AddrFromSlice(d.ip6.DstIP)
			sawIP = true
		case layers.LayerTypeTCP:
			sawTCP = true
		}
	}

	switch {
	case sawTCP:
	case err != nil && sawIP:
		return seg, fmt.Errorf("%w: %v", core.ErrPacketTooShort, err)
	case sawIP:
		return seg, core.ErrNotTCP
	case err != nil:
		return seg, fmt.Errorf("%w: %v", core.ErrPacketTooShort, err)
	default:
		return seg, core.ErrUnsupportedProto
	}

	seg.Conn = core.ConnID{
		SrcIP:   srcAddr,
		DstIP:   dstAddr,
		SrcPort: uint16(d.tcp.SrcPort),
		DstPort: uint16(d.tcp.DstPort),
	}
	seg.Seq = d.tcp.Seq
	seg.Ack = d.tcp.Ack
	seg.Timestamp = raw.Timestamp
	if n := len(d.tcp.Payload); n > 0 {
		seg.Payload = make([]byte, n)
		copy(seg.Payload, d.tcp.Payload)
	}
	return seg, nil
}
