package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"tokenwatch/internal/agent/httpmatcher"
)

// Decode 解出 IPv4/IPv6 + TCP/UDP 的传输层 payload。
// 其他协议或空 payload 返回 false。
func Decode(data []byte, linkType layers.LinkType, ts time.Time) (httpmatcher.Segment, bool) {
	packet := gopacket.NewPacket(data, linkType, gopacket.NoCopy)

	seg := httpmatcher.Segment{Timestamp: ts}
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		seg.SrcIP, seg.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	case *layers.IPv6:
		seg.SrcIP, seg.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	default:
		return httpmatcher.Segment{}, false
	}

	switch l4 := packet.TransportLayer().(type) {
	case *layers.TCP:
		seg.SrcPort, seg.DstPort = int(l4.SrcPort), int(l4.DstPort)
		seg.Payload = l4.Payload
	case *layers.UDP:
		seg.SrcPort, seg.DstPort = int(l4.SrcPort), int(l4.DstPort)
		seg.Payload = l4.Payload
	default:
		return httpmatcher.Segment{}, false
	}
	if len(seg.Payload) == 0 {
		return httpmatcher.Segment{}, false
	}
	return seg, true
}
