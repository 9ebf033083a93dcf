// Package expiry 周期性清理过期 token 并发出过期事件。
package expiry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tokenwatch/internal/agent/events"
	"tokenwatch/internal/agent/tokenstore"
	"tokenwatch/internal/logging"
	"tokenwatch/pkg/model"
)

const DefaultInterval = 60 * time.Second

type Emitter interface {
	Emit(e model.TokenEvent)
}

type Monitor struct {
	store    *tokenstore.Store
	name     func(systemID string) string
	bus      Emitter
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(store *tokenstore.Store, name func(string) string, bus Emitter, interval time.Duration, logger *zap.Logger, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		store:    store,
		name:     name,
		bus:      bus,
		interval: interval,
		logger:   logger.With(logging.Component("expiry")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run 按固定间隔执行 Sweep，直到 ctx 取消。
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("过期检查已启动", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("已清理过期 token", zap.Int("count", n))
			}
		}
	}
}

// Sweep 清理所有 expires_at <= now 的记录，返回清理数量。
// 先收集再删除，删除时要求槽位仍是同一条记录，避免误删刚写入的新 token。
func (m *Monitor) Sweep() int {
	now := m.now()

	type stale struct {
		id  string
		rec *tokenstore.Record
	}
	var expired []stale
	m.store.Range(func(id string, rec *tokenstore.Record) bool {
		if rec.Expired(now) {
			expired = append(expired, stale{id: id, rec: rec})
		}
		return true
	})

	cleared := 0
	for _, s := range expired {
		if m.expire(s.id, s.rec, now) {
			cleared++
		}
	}
	return cleared
}

func (m *Monitor) expire(systemID string, rec *tokenstore.Record, now time.Time) (cleared bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("处理过期 token 异常", logging.SystemID(systemID), zap.Any("panic", r))
		}
	}()
	if !m.store.ClearIf(systemID, rec) {
		return false
	}
	cleared = true
	m.bus.Emit(events.NewExpired(systemID, m.name(systemID), rec.ExpiresAt, now))
	return cleared
}
