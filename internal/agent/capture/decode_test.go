package capture

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type frameSpec struct {
	v6      bool
	udp     bool
	src     int
	dst     int
	payload string
}

func buildFrame(t *testing.T, f frameSpec) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC: net.HardwareAddr{6, 7, 8, 9, 10, 11},
	}
	proto := layers.IPProtocolTCP
	if f.udp {
		proto = layers.IPProtocolUDP
	}

	var network gopacket.SerializableLayer
	var nl gopacket.NetworkLayer
	if f.v6 {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto,
			SrcIP: net.ParseIP("fd00::1"), DstIP: net.ParseIP("fd00::2")}
		network, nl = ip, ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto,
			SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
		network, nl = ip, ip
	}

	var transport gopacket.SerializableLayer
	if f.udp {
		l := &layers.UDP{SrcPort: layers.UDPPort(f.src), DstPort: layers.UDPPort(f.dst)}
		_ = l.SetNetworkLayerForChecksum(nl)
		transport = l
	} else {
		l := &layers.TCP{SrcPort: layers.TCPPort(f.src), DstPort: layers.TCPPort(f.dst), PSH: true, ACK: true, Window: 1024}
		_ = l.SetNetworkLayerForChecksum(nl)
		transport = l
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, transport, gopacket.Payload(f.payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	tests := []struct {
		name  string
		frame frameSpec
		ok    bool
		src   string
		dst   string
	}{
		{"ipv4 tcp", frameSpec{src: 50000, dst: 80, payload: "GET / HTTP/1.1\r\n\r\n"}, true, "10.0.0.1", "10.0.0.2"},
		{"ipv6 tcp", frameSpec{v6: true, src: 50000, dst: 8080, payload: "GET / HTTP/1.1\r\n\r\n"}, true, "fd00::1", "fd00::2"},
		{"ipv4 udp", frameSpec{udp: true, src: 5353, dst: 80, payload: "x"}, true, "10.0.0.1", "10.0.0.2"},
		{"empty payload", frameSpec{src: 50000, dst: 80}, false, "", ""},
	}
	for _, tt := range tests {
		seg, ok := Decode(buildFrame(t, tt.frame), layers.LinkTypeEthernet, ts)
		if ok != tt.ok {
			t.Errorf("%s: ok = %v; want %v", tt.name, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if seg.SrcIP != tt.src || seg.DstIP != tt.dst {
			t.Errorf("%s: %s -> %s", tt.name, seg.SrcIP, seg.DstIP)
		}
		if seg.SrcPort != tt.frame.src || seg.DstPort != tt.frame.dst {
			t.Errorf("%s: ports %d -> %d", tt.name, seg.SrcPort, seg.DstPort)
		}
		if string(seg.Payload) != tt.frame.payload || !seg.Timestamp.Equal(ts) {
			t.Errorf("%s: payload %q ts %v", tt.name, seg.Payload, seg.Timestamp)
		}
	}
}

func TestDecode_NonIP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: []byte{0, 1, 2, 3, 4, 5}, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: []byte{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		t.Fatal(err)
	}
	if _, ok := Decode(buf.Bytes(), layers.LinkTypeEthernet, time.Now()); ok {
		t.Error("ARP frame decoded as segment")
	}
	if _, ok := Decode([]byte{1, 2, 3}, layers.LinkTypeEthernet, time.Now()); ok {
		t.Error("garbage decoded as segment")
	}
}
