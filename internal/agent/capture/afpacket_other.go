//go:build !linux

package capture

import "errors"

func openAFPacket(device string, opts OpenOptions) (Source, error) {
	return nil, errors.New("afpacket 后端仅支持 Linux")
}
