package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"tokenwatch/internal/agent/filter"
)

type Backend string

const (
	BackendPcap     Backend = "pcap"
	BackendAFPacket Backend = "afpacket"
)

// Source 是一个已打开、已设置过滤器的抓包句柄。
// ReadPacketData 在读超时时返回 ErrTimeout；返回的数据在下次调用前保持有效。
type Source interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

type OpenOptions struct {
	Snaplen     int
	Promiscuous bool
	ReadTimeout time.Duration
	Ports       []int
}

type Opener func(device string, opts OpenOptions) (Source, error)

func OpenerFor(b Backend) (Opener, error) {
	switch b {
	case "", BackendPcap:
		return openPcap, nil
	case BackendAFPacket:
		return openAFPacket, nil
	default:
		return nil, fmt.Errorf("不支持的抓包后端：%s", b)
	}
}

type pcapSource struct {
	h *pcap.Handle
}

func openPcap(device string, opts OpenOptions) (Source, error) {
	expr, err := filter.Expression(opts.Ports)
	if err != nil {
		return nil, fmt.Errorf("%w：%w", ErrFilterInvalid, err)
	}
	h, err := pcap.OpenLive(device, int32(opts.Snaplen), opts.Promiscuous, opts.ReadTimeout)
	if err != nil {
		return nil, classifyOpenError(device, err)
	}
	// 过滤在内核/libpcap 中完成，用户态只会看到目标端口的 TCP 包
	if err := h.SetBPFFilter(expr); err != nil {
		h.Close()
		return nil, fmt.Errorf("%w：%s：%w", ErrFilterInvalid, expr, err)
	}
	return &pcapSource{h: h}, nil
}

func (s *pcapSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.h.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

func (s *pcapSource) LinkType() layers.LinkType { return s.h.LinkType() }

func (s *pcapSource) Close() { s.h.Close() }
