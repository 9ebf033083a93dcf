package httpmatcher

import (
	"testing"
	"time"
)

func TestReconstructor(t *testing.T) {
	r := NewReconstructor()
	now := time.Now()
	seg := Segment{
		Timestamp: now,
		SrcIP:     "192.168.1.10",
		SrcPort:   12345,
		DstIP:     "10.0.0.1",
		DstPort:   80,
		Payload:   []byte("GET /api/test HTTP/1.1\r\nHost: example.com\r\n\r\n"),
	}

	m1, ok := r.Reconstruct(seg)
	if !ok {
		t.Fatal("Reconstruct should accept HTTP request")
	}
	if m1.ID != 1 || !m1.Timestamp.Equal(now) || m1.SrcIP != "192.168.1.10" || m1.DstPort != 80 {
		t.Errorf("unexpected message %+v", m1)
	}
	m2, _ := r.Reconstruct(seg)
	if m2.ID != 2 {
		t.Errorf("Expected ID 2, got %d", m2.ID)
	}

	if _, ok := r.Reconstruct(Segment{Payload: []byte("SSH-2.0-OpenSSH_8.2p1\r\n")}); ok {
		t.Error("Should ignore non-HTTP traffic")
	}
}

func TestCorrelator_Resolve(t *testing.T) {
	c := NewCorrelator(5 * time.Second)
	r := NewReconstructor()
	now := time.Now()

	req, _ := r.Reconstruct(Segment{
		Timestamp: now,
		SrcIP:     "192.168.1.10",
		SrcPort:   12345,
		DstIP:     "10.0.0.1",
		DstPort:   80,
		Payload:   []byte("GET /api/test HTTP/1.1\r\nHost: example.com\r\n\r\n"),
	})
	c.ObserveRequest(req)
	if c.Len() != 1 {
		t.Fatalf("Expected 1 pending request, got %d", c.Len())
	}

	resp, _ := r.Reconstruct(Segment{
		Timestamp: now.Add(100 * time.Millisecond),
		SrcIP:     "10.0.0.1", // Response src is Server
		SrcPort:   80,
		DstIP:     "192.168.1.10",
		DstPort:   12345,
		Payload:   []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"),
	})
	if !c.ResolveResponse(resp) {
		t.Fatal("ResolveResponse should match the request")
	}
	if resp.URL() != "http://example.com/api/test" {
		t.Errorf("URL = %q", resp.URL())
	}
	if c.Len() != 0 {
		t.Error("Request should be removed after matching response")
	}
	if c.ResolveResponse(resp) {
		t.Error("second resolve should miss")
	}
}

func TestCorrelator_Cleanup(t *testing.T) {
	c := NewCorrelator(100 * time.Millisecond)
	now := time.Now()
	c.ObserveRequest(&Message{
		Direction: DirectionRequest,
		Timestamp: now.Add(-200 * time.Millisecond), // Expired
		SrcIP:     "1.1.1.1",
		SrcPort:   1000,
		DstIP:     "2.2.2.2",
		DstPort:   80,
		Path:      "/old",
	})
	if c.Len() != 1 {
		t.Errorf("Expected 1 request before cleanup, got %d", c.Len())
	}
	c.Cleanup(now)
	if c.Len() != 0 {
		t.Errorf("Expected 0 requests after cleanup, got %d", c.Len())
	}
}
