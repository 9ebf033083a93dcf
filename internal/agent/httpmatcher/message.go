package httpmatcher

import (
	"net"
	"strconv"
	"strings"
	"time"

	"tokenwatch/pkg/model"
)

type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

type Header struct {
	Name  string
	Value string
}

// Message 是从单个传输层 payload 还原出的 HTTP 报文，只在流水线中短暂存在。
type Message struct {
	ID        uint64
	Timestamp time.Time
	SrcIP     string
	SrcPort   int
	DstIP     string
	DstPort   int
	Direction Direction

	// 请求行
	Method string
	Path   string
	// 状态行
	StatusCode int
	StatusText string

	Version       string
	Host          string
	ContentType   string
	ContentLength int // 没有 Content-Length 或无法解析时为 -1
	Headers       []Header
	Body          string

	// RequestURL 只对响应有效：由 Correlator 按四元组回填对应请求的 URL。
	RequestURL string
}

// Header 按名称（不区分大小写）返回第一个匹配的头部值。
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// URL 还原请求的完整地址：目标端口 443 视为 https，其余为 http；
// 没有 Host 头时退化为 目标IP:端口。
func (m *Message) URL() string {
	if m.Direction == DirectionResponse {
		return m.RequestURL
	}
	scheme := "http"
	if m.DstPort == 443 {
		scheme = "https"
	}
	host := m.Host
	if host == "" {
		host = net.JoinHostPort(m.DstIP, strconv.Itoa(m.DstPort))
	}
	path := m.Path
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// Snapshot 返回对外展示用的副本，不包含 body。
func (m *Message) Snapshot() model.RequestSnapshot {
	headers := make([][2]string, 0, len(m.Headers))
	for _, h := range m.Headers {
		headers = append(headers, [2]string{h.Name, h.Value})
	}
	return model.RequestSnapshot{
		URL:       m.URL(),
		Method:    m.Method,
		Version:   m.Version,
		SrcIP:     m.SrcIP,
		SrcPort:   m.SrcPort,
		DstIP:     m.DstIP,
		DstPort:   m.DstPort,
		Timestamp: m.Timestamp,
		Headers:   headers,
	}
}
