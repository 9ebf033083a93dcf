package httpmatcher

import (
	"bytes"
	"strconv"
	"strings"
)

type Kind int

const (
	KindNone Kind = iota
	KindRequest
	KindResponse
)

var requestPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("DELETE "),
	[]byte("HEAD "),
	[]byte("OPTIONS "),
	[]byte("PATCH "),
	[]byte("TRACE "),
	[]byte("CONNECT "),
}

var responsePrefixes = [][]byte{
	[]byte("HTTP/1.0 "),
	[]byte("HTTP/1.1 "),
	[]byte("HTTP/2.0 "),
	[]byte("HTTP/3.0 "),
}

// Classify 只做字面量前缀判断，避免在大量非 HTTP payload 上做字符串切分。
func Classify(payload []byte) Kind {
	for _, p := range requestPrefixes {
		if bytes.HasPrefix(payload, p) {
			return KindRequest
		}
	}
	for _, p := range responsePrefixes {
		if bytes.HasPrefix(payload, p) {
			return KindResponse
		}
	}
	return KindNone
}

// ParseRequest 解析请求行 + 头部 + body。起始行少于 3 段直接丢弃（ok=false），
// 抓到的是单个 TCP 段，残缺报文很常见，不当作错误处理。
func ParseRequest(payload []byte) (*Message, bool) {
	lines := strings.Split(string(payload), "\r\n")
	parts := strings.Fields(lines[0])
	if len(parts) < 3 {
		return nil, false
	}
	m := &Message{
		Direction: DirectionRequest,
		Method:    parts[0],
		Path:      parts[1],
		Version:   parts[2],
	}
	parseHeaders(m, lines)
	return m, true
}

func ParseResponse(payload []byte) (*Message, bool) {
	lines := strings.Split(string(payload), "\r\n")
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 3 {
		return nil, false
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return nil, false
	}
	m := &Message{
		Direction:  DirectionResponse,
		Version:    parts[0],
		StatusCode: code,
		StatusText: parts[2],
	}
	parseHeaders(m, lines)
	return m, true
}

// Parse 先分类再解析；非 HTTP 或残缺报文返回 ok=false。
func Parse(payload []byte) (*Message, bool) {
	switch Classify(payload) {
	case KindRequest:
		return ParseRequest(payload)
	case KindResponse:
		return ParseResponse(payload)
	default:
		return nil, false
	}
}

func parseHeaders(m *Message, lines []string) {
	m.ContentLength = -1
	bodyStart := len(lines)
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			bodyStart = i + 1
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch strings.ToLower(name) {
		case "host":
			m.Host = value
		case "content-type":
			m.ContentType = value
		case "content-length":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				m.ContentLength = n
			}
		}
		m.Headers = append(m.Headers, Header{Name: name, Value: value})
	}
	if bodyStart < len(lines) {
		m.Body = strings.Join(lines[bodyStart:], "\r\n")
	}
}
