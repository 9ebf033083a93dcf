// Package events 把 token 生命周期事件投递给外部消费者。
//
// 外部消费者只有一个槽位：新的订阅会顶替旧的，不做多路广播。
// 顶替者取消订阅后，槽位交还给它顶替的、仍未取消的消费者。
// 没有消费者时事件直接丢弃，但最近 N 条会保留在历史里供后来者查询。
// 内部观察者（日志、journal）在构造时固定，每条事件都会收到。
package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tokenwatch/internal/logging"
	"tokenwatch/pkg/model"
)

const DefaultHistorySize = 100

var ErrNoSink = errors.New("没有事件消费者")

type Sink interface {
	Deliver(e model.TokenEvent) error
}

type SinkFunc func(e model.TokenEvent) error

func (f SinkFunc) Deliver(e model.TokenEvent) error { return f(e) }

type Observer func(e model.TokenEvent)

type slot struct {
	sink Sink
	// prev 是被本次订阅顶替的消费者
	prev   *slot
	closed atomic.Bool
}

// live 沿 prev 链找到最近一个未取消的消费者。
func (s *slot) live() *slot {
	for s != nil && s.closed.Load() {
		s = s.prev
	}
	return s
}

type Bus struct {
	logger    *zap.Logger
	observers []Observer
	current   atomic.Pointer[slot]

	mu      sync.Mutex
	history []model.TokenEvent
	next    int
	full    bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus(historySize int, logger *zap.Logger, observers ...Observer) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		logger:    logger.With(logging.Component("events")),
		observers: observers,
		history:   make([]model.TokenEvent, historySize),
	}
}

// Subscribe 设置唯一的外部消费者，替换之前的消费者。
// 返回的函数只会取消本次订阅：本订阅仍占着槽位时，槽位恢复为被它顶替的消费者；
// 槽位已被别人替换时，只标记取消，之后不会再被恢复。
func (b *Bus) Subscribe(sink Sink) (unsubscribe func()) {
	s := &slot{sink: sink}
	for {
		cur := b.current.Load()
		s.prev = cur.live()
		if b.current.CompareAndSwap(cur, s) {
			break
		}
	}
	if s.prev != nil {
		b.logger.Info("事件消费者已被替换")
	} else {
		b.logger.Info("事件消费者已连接")
	}
	return func() {
		if s.closed.Swap(true) {
			return
		}
		for {
			if b.current.Load() != s {
				return
			}
			restore := s.prev.live()
			if b.current.CompareAndSwap(s, restore) {
				if restore != nil {
					b.logger.Info("事件消费者已断开，恢复之前的消费者")
				} else {
					b.logger.Info("事件消费者已断开")
				}
				return
			}
		}
	}
}

func (b *Bus) HasSink() bool {
	return b.current.Load() != nil
}

// Emit 记录历史、通知内部观察者，然后尽力投递给外部消费者。
// 与 Subscribe 并发时事件可能投递到旧消费者或被丢弃，历史可以弥补。
func (b *Bus) Emit(e model.TokenEvent) {
	b.record(e)

	for _, obs := range b.observers {
		b.notify(obs, e)
	}

	s := b.current.Load()
	if s == nil {
		b.dropped.Add(1)
		b.logger.Debug("事件未投递", logging.EventKind(string(e.Kind)), zap.Error(ErrNoSink))
		return
	}
	if err := s.sink.Deliver(e); err != nil {
		b.dropped.Add(1)
		b.logger.Warn("事件投递失败", logging.EventKind(string(e.Kind)), logging.SystemID(e.SystemID), zap.Error(err))
		return
	}
	b.delivered.Add(1)
}

func (b *Bus) notify(obs Observer, e model.TokenEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("事件观察者异常", logging.EventKind(string(e.Kind)), zap.Any("panic", r))
		}
	}()
	obs(e)
}

func (b *Bus) record(e model.TokenEvent) {
	b.mu.Lock()
	b.history[b.next] = e
	b.next = (b.next + 1) % len(b.history)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

// History 按时间顺序（旧 → 新）返回保留的事件副本。
func (b *Bus) History() []model.TokenEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]model.TokenEvent(nil), b.history[:b.next]...)
	}
	out := make([]model.TokenEvent, 0, len(b.history))
	out = append(out, b.history[b.next:]...)
	return append(out, b.history[:b.next]...)
}

func (b *Bus) Stats() (delivered, dropped uint64) {
	return b.delivered.Load(), b.dropped.Load()
}

func NewAcquired(systemID, systemName, token string, acquiredAt, expiresAt time.Time, sourceURL string) model.TokenEvent {
	return model.TokenEvent{
		ID:         uuid.NewString(),
		Kind:       model.EventAcquired,
		SystemID:   systemID,
		SystemName: systemName,
		OccurredAt: acquiredAt,
		Token:      token,
		AcquiredAt: &acquiredAt,
		ExpiresAt:  &expiresAt,
		SourceURL:  sourceURL,
	}
}

func NewExpired(systemID, systemName string, expiresAt, now time.Time) model.TokenEvent {
	return model.TokenEvent{
		ID:         uuid.NewString(),
		Kind:       model.EventExpired,
		SystemID:   systemID,
		SystemName: systemName,
		OccurredAt: now,
		ExpiresAt:  &expiresAt,
	}
}

func NewFailed(systemID, systemName, sourceURL string, err error, now time.Time) model.TokenEvent {
	return model.TokenEvent{
		ID:         uuid.NewString(),
		Kind:       model.EventFailed,
		SystemID:   systemID,
		SystemName: systemName,
		OccurredAt: now,
		SourceURL:  sourceURL,
		Error:      err.Error(),
	}
}

// LogObserver 把事件写进日志；token 只打印掩码。
func LogObserver(logger *zap.Logger, mask func(string) string) Observer {
	return func(e model.TokenEvent) {
		switch e.Kind {
		case model.EventAcquired:
			logger.Info("token 获取成功", logging.SystemID(e.SystemID), zap.String("system", e.SystemName),
				zap.String("token", mask(e.Token)), logging.URL(e.SourceURL), zap.Timep("expires_at", e.ExpiresAt))
		case model.EventExpired:
			logger.Warn("token 已过期", logging.SystemID(e.SystemID), zap.String("system", e.SystemName))
		case model.EventFailed:
			logger.Warn("token 校验失败", logging.SystemID(e.SystemID), zap.String("system", e.SystemName),
				logging.URL(e.SourceURL), zap.String("error", e.Error))
		}
	}
}
