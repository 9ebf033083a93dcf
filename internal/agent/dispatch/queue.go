// Package dispatch 把抓包线程和认证处理解耦：抓包线程只做入队，
// 认证 fan-out 在独立的 worker 里执行。
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"tokenwatch/internal/agent/httpmatcher"
	"tokenwatch/internal/logging"
)

const DefaultSize = 256

type Handler func(m *httpmatcher.Message)

// Queue 是有界 FIFO。队列满时丢弃最旧的报文并计数：
// 相同 token 的重复报文在下游本来就是 no-op，丢旧留新损失最小。
type Queue struct {
	mu     sync.Mutex
	buf    []*httpmatcher.Message
	head   int
	size   int
	notify chan struct{}

	handler Handler
	logger  *zap.Logger

	submitted atomic.Uint64
	handled   atomic.Uint64
	dropped   atomic.Uint64
}

func New(size int, handler Handler, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue{
		buf:     make([]*httpmatcher.Message, size),
		notify:  make(chan struct{}, 1),
		handler: handler,
		logger:  logger.With(logging.Component("dispatch")),
	}
}

// Submit 不会阻塞。
func (q *Queue) Submit(m *httpmatcher.Message) {
	q.submitted.Add(1)

	q.mu.Lock()
	if q.size == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped.Add(1)
	}
	q.buf[(q.head+q.size)%len(q.buf)] = m
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (*httpmatcher.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil, false
	}
	m := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return m, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Run 在调用方 goroutine 中消费队列，直到 ctx 取消。
func (q *Queue) Run(ctx context.Context) {
	for {
		for {
			m, ok := q.pop()
			if !ok {
				break
			}
			q.handle(m)
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
	}
}

func (q *Queue) handle(m *httpmatcher.Message) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("处理报文异常", zap.Uint64("message_id", m.ID), zap.Any("panic", r))
		}
	}()
	q.handler(m)
	q.handled.Add(1)
}

func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

func (q *Queue) Stats() (submitted, handled, dropped uint64) {
	return q.submitted.Load(), q.handled.Load(), q.dropped.Load()
}
