// Package tokenstore 保存每个业务系统当前持有的 token。
//
// 每个系统一个槽位，槽位里是不可变的 *Record，更新时整体替换指针，
// 读者永远看不到写了一半的记录。槽位之间互不加锁（sync.Map），
// 抓包 worker、过期检查和外部查询不会串行在同一把锁上。
package tokenstore

import (
	"sync"
	"sync/atomic"
	"time"

	"tokenwatch/pkg/model"
)

type Record struct {
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Valid      bool
	SourceURL  string
}

func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// System 是快照时需要的系统标识。
type System struct {
	ID   string
	Name string
}

type Store struct {
	slots   sync.Map // system_id -> *Record
	version atomic.Uint64
	now     func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update 整体替换槽位中的记录。
func (s *Store) Update(systemID string, rec Record) {
	s.slots.Store(systemID, &rec)
	s.version.Add(1)
}

// Get 返回槽位中的原始记录（可能已过期）。返回的记录只读。
func (s *Store) Get(systemID string) (*Record, bool) {
	v, ok := s.slots.Load(systemID)
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// Token 只在记录存在、有效且未过期时返回 token。
func (s *Store) Token(systemID string) (string, bool) {
	rec, ok := s.Get(systemID)
	if !ok || !rec.Valid || rec.Expired(s.now()) {
		return "", false
	}
	return rec.Token, true
}

func (s *Store) Clear(systemID string) bool {
	if _, loaded := s.slots.LoadAndDelete(systemID); loaded {
		s.version.Add(1)
		return true
	}
	return false
}

// ClearIf 只有槽位里仍是 rec 时才删除，避免误删刚被替换的新记录。
func (s *Store) ClearIf(systemID string, rec *Record) bool {
	if s.slots.CompareAndDelete(systemID, rec) {
		s.version.Add(1)
		return true
	}
	return false
}

func (s *Store) ClearAll() int {
	n := 0
	s.slots.Range(func(key, _ any) bool {
		if _, loaded := s.slots.LoadAndDelete(key); loaded {
			n++
		}
		return true
	})
	if n > 0 {
		s.version.Add(1)
	}
	return n
}

// Range 遍历当前所有记录；fn 返回 false 时停止。
func (s *Store) Range(fn func(systemID string, rec *Record) bool) {
	s.slots.Range(func(key, value any) bool {
		return fn(key.(string), value.(*Record))
	})
}

// Version 每次写入/清除自增，仅用于诊断。
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Snapshot 按 systems 的顺序为每个系统生成状态，没有记录的系统为 Waiting。
func (s *Store) Snapshot(systems []System) []model.TokenStatus {
	now := s.now()
	out := make([]model.TokenStatus, 0, len(systems))
	for _, sys := range systems {
		st := model.TokenStatus{
			SystemID:   sys.ID,
			SystemName: sys.Name,
			State:      model.StateWaiting,
		}
		if rec, ok := s.Get(sys.ID); ok {
			acquired, expires := rec.AcquiredAt, rec.ExpiresAt
			st.HasToken = rec.Token != ""
			st.AcquiredAt = &acquired
			st.ExpiresAt = &expires
			st.LastSeenURL = rec.SourceURL
			st.State = Derive(rec, now)
			if st.State == model.StateActive {
				st.RemainingSeconds = int64(rec.ExpiresAt.Sub(now) / time.Second)
			}
		}
		out = append(out, st)
	}
	return out
}

// Derive 由记录和当前时间推导状态，状态本身从不保存。
func Derive(rec *Record, now time.Time) model.TokenState {
	switch {
	case rec == nil:
		return model.StateWaiting
	case !rec.Valid:
		return model.StateFailed
	case rec.Expired(now):
		return model.StateExpired
	default:
		return model.StateActive
	}
}
