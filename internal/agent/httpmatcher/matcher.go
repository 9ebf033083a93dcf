package httpmatcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Segment 是抓包层交上来的单个传输层 payload 及其元信息。
type Segment struct {
	Timestamp time.Time
	SrcIP     string
	DstIP     string
	SrcPort   int
	DstPort   int
	Payload   []byte
}

// Reconstructor 把 Segment 还原成 Message，并分配单调递增的 ID。
type Reconstructor struct {
	nextID atomic.Uint64
}

func NewReconstructor() *Reconstructor {
	return &Reconstructor{}
}

func (r *Reconstructor) Reconstruct(s Segment) (*Message, bool) {
	m, ok := Parse(s.Payload)
	if !ok {
		return nil, false
	}
	m.ID = r.nextID.Add(1)
	m.Timestamp = s.Timestamp
	m.SrcIP = s.SrcIP
	m.SrcPort = s.SrcPort
	m.DstIP = s.DstIP
	m.DstPort = s.DstPort
	return m, true
}

type requestState struct {
	ts  time.Time
	url string
}

// Correlator 按四元组把响应关联回请求，用于响应扫描时还原 URL。
// Best-Effort：不做 TCP 流重组，同一连接上的流水线请求只记最后一条。
type Correlator struct {
	mu       sync.Mutex
	requests map[string]requestState
	timeout  time.Duration
}

func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Correlator{
		requests: make(map[string]requestState, 1024),
		timeout:  timeout,
	}
}

func (c *Correlator) ObserveRequest(m *Message) {
	if m.Direction != DirectionRequest {
		return
	}
	// Key 采用 4 元组（client -> server）：ClientIP:ClientPort-ServerIP:ServerPort
	key := flowKey(m.SrcIP, m.SrcPort, m.DstIP, m.DstPort)
	c.mu.Lock()
	c.requests[key] = requestState{ts: m.Timestamp, url: m.URL()}
	c.mu.Unlock()
}

// ResolveResponse 为响应回填 RequestURL；找不到对应请求时返回 false。
func (c *Correlator) ResolveResponse(m *Message) bool {
	if m.Direction != DirectionResponse {
		return false
	}
	// Response 方向与 Request 相反，所以要把 src/dst 交换后构造 key 才能命中。
	key := flowKey(m.DstIP, m.DstPort, m.SrcIP, m.SrcPort)

	c.mu.Lock()
	req, found := c.requests[key]
	if found {
		delete(c.requests, key)
	}
	c.mu.Unlock()

	if !found {
		return false
	}
	m.RequestURL = req.url
	return true
}

func (c *Correlator) Cleanup(now time.Time) {
	deadline := now.Add(-c.timeout)
	c.mu.Lock()
	for k, v := range c.requests {
		if v.ts.Before(deadline) {
			delete(c.requests, k)
		}
	}
	c.mu.Unlock()
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func flowKey(clientIP string, clientPort int, serverIP string, serverPort int) string {
	return fmt.Sprintf("%s:%d-%s:%d", clientIP, clientPort, serverIP, serverPort)
}
