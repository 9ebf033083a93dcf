package app

import (
	"time"

	"tokenwatch/internal/agent/capture"
	"tokenwatch/internal/agent/dispatch"
	"tokenwatch/internal/agent/events"
	"tokenwatch/internal/agent/expiry"
	"tokenwatch/internal/agent/filter"
	"tokenwatch/internal/agent/journal"
)

type Config struct {
	ListenAddr string
	// Interface 非空时启动后立即在该网卡上抓包
	Interface string
	Backend   string

	Ports       []int
	Snaplen     int
	ReadTimeout time.Duration
	StopTimeout time.Duration

	QueueSize      int
	ExpiryInterval time.Duration
	HistorySize    int
	ScanResponses  bool
	FlowTimeout    time.Duration

	JournalDriver string
	JournalPath   string

	ReportURL     string
	ReportTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8765"
	}
	if c.Backend == "" {
		c.Backend = string(capture.BackendPcap)
	}
	if len(c.Ports) == 0 {
		c.Ports = filter.DefaultPorts
	}
	if c.Snaplen <= 0 {
		c.Snaplen = capture.DefaultSnaplen
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = capture.DefaultReadTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = capture.DefaultStopTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = dispatch.DefaultSize
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = expiry.DefaultInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = events.DefaultHistorySize
	}
	if c.FlowTimeout <= 0 {
		c.FlowTimeout = 30 * time.Second
	}
	if c.JournalDriver == "" {
		c.JournalDriver = journal.DriverNone
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = 5 * time.Second
	}
	return c
}
