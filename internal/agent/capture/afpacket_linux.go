//go:build linux

package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"tokenwatch/internal/agent/filter"
)

type afpacketSource struct {
	tp *afpacket.TPacket
}

// openAFPacket 使用 AF_PACKET（mmap 环形缓冲）直接读取链路层帧。
// 注意：这里不会把网卡切到混杂模式，只能看到发往本机或本机发出的帧。
func openAFPacket(device string, opts OpenOptions) (Source, error) {
	raw, err := filter.TCPPortsBPF(opts.Ports)
	if err != nil {
		return nil, fmt.Errorf("%w：%w", ErrFilterInvalid, err)
	}

	frameSize := nextPow2(opts.Snaplen)
	if frameSize < 2048 {
		frameSize = 2048
	}
	if frameSize > 1<<16 {
		frameSize = 1 << 16
	}
	blockSize := 1 << 20
	if blockSize%frameSize != 0 {
		blockSize = frameSize * 16
	}

	tpOpts := []interface{}{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(64),
		afpacket.OptPollTimeout(opts.ReadTimeout),
	}
	// "any" 不绑定网卡，监听所有接口
	if device != "any" {
		tpOpts = append(tpOpts, afpacket.OptInterface(device))
	}
	tp, err := afpacket.NewTPacket(tpOpts...)
	if err != nil {
		return nil, classifyOpenError(device, err)
	}
	if err := tp.SetBPF(raw); err != nil {
		tp.Close()
		return nil, fmt.Errorf("%w：%w", ErrFilterInvalid, err)
	}
	return &afpacketSource{tp: tp}, nil
}

func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

func (s *afpacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.tp.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

// 生成的 cBPF 程序按 Ethernet 帧偏移编写
func (s *afpacketSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *afpacketSource) Close() { s.tp.Close() }
