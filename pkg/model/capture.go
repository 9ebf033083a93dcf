package model

import "time"

// NetworkDevice 是枚举时刻的网卡快照，不做持久化。
type NetworkDevice struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsLoopback  bool     `json:"is_loopback"`
	Addresses   []string `json:"addresses"`
}

type CaptureSession struct {
	Running         bool       `json:"running"`
	DeviceName      string     `json:"device_name,omitempty"`
	Backend         string     `json:"backend,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	Message         string     `json:"message"`
	PacketsCaptured uint64     `json:"packets_captured"`
	BytesCaptured   uint64     `json:"bytes_captured"`
	HTTPMessages    uint64     `json:"http_messages"`
	DroppedMessages uint64     `json:"dropped_messages"`
	ReadErrors      uint64     `json:"read_errors"`
}
