package model

import "time"

type TokenState string

const (
	StateWaiting TokenState = "waiting"
	StateActive  TokenState = "active"
	StateExpired TokenState = "expired"
	StateFailed  TokenState = "failed"
)

// TokenStatus 每次查询时由 TokenRecord 与当前时间推导，不单独保存。
type TokenStatus struct {
	SystemID         string     `json:"system_id"`
	SystemName       string     `json:"system_name"`
	HasToken         bool       `json:"has_token"`
	AcquiredAt       *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	LastSeenURL      string     `json:"last_seen_url,omitempty"`
	State            TokenState `json:"state"`
}

type EventKind string

const (
	EventAcquired EventKind = "token_acquired"
	EventExpired  EventKind = "token_expired"
	EventFailed   EventKind = "token_failed"
)

// TokenEvent 是 Acquired / Expired / Failed 三种事件的统一载体，
// Kind 决定哪些字段有意义：
//   - Acquired: Token, AcquiredAt, ExpiresAt, SourceURL
//   - Expired:  ExpiresAt
//   - Failed:   Error, SourceURL
type TokenEvent struct {
	ID         string     `json:"id"`
	Kind       EventKind  `json:"kind"`
	SystemID   string     `json:"system_id"`
	SystemName string     `json:"system_name"`
	OccurredAt time.Time  `json:"occurred_at"`
	Token      string     `json:"token,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	SourceURL  string     `json:"source_url,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// JournalEntry 是落盘的事件记录；只保存 token 指纹，不保存明文。
type JournalEntry struct {
	ID          string     `json:"id"`
	Kind        EventKind  `json:"kind"`
	SystemID    string     `json:"system_id"`
	SystemName  string     `json:"system_name"`
	OccurredAt  time.Time  `json:"occurred_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RequestSnapshot 是某系统最近一次命中 token 的请求（不含 body）。
type RequestSnapshot struct {
	URL       string      `json:"url"`
	Method    string      `json:"method"`
	Version   string      `json:"version"`
	SrcIP     string      `json:"src_ip"`
	SrcPort   int         `json:"src_port"`
	DstIP     string      `json:"dst_ip"`
	DstPort   int         `json:"dst_port"`
	Timestamp time.Time   `json:"timestamp"`
	Headers   [][2]string `json:"headers"`
}
