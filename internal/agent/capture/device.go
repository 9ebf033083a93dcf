package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"

	"tokenwatch/pkg/model"
)

// libpcap 的 PCAP_IF_LOOPBACK
const pcapIfLoopback = 0x00000001

// ListDevices 通过 libpcap 枚举本机可抓包的网卡，结果是调用时刻的快照。
func ListDevices() ([]model.NetworkDevice, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("%w：%w", ErrListFailed, err)
	}
	out := make([]model.NetworkDevice, 0, len(ifs))
	for _, itf := range ifs {
		d := model.NetworkDevice{
			Name:        itf.Name,
			Description: itf.Description,
			IsLoopback:  itf.Flags&pcapIfLoopback != 0,
			Addresses:   make([]string, 0, len(itf.Addresses)),
		}
		for _, addr := range itf.Addresses {
			if addr.IP != nil {
				d.Addresses = append(d.Addresses, addr.IP.String())
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func findDevice(devices []model.NetworkDevice, name string) bool {
	for _, d := range devices {
		if d.Name == name {
			return true
		}
	}
	return false
}
