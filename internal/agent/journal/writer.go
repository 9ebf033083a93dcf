package journal

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"tokenwatch/internal/logging"
	"tokenwatch/pkg/model"
)

// Writer 在独立 goroutine 中写库，事件总线上的 Observe 只做入队。
type Writer struct {
	store   Store
	ch      chan model.JournalEntry
	logger  *zap.Logger
	dropped atomic.Uint64
}

func NewWriter(store Store, size int, logger *zap.Logger) *Writer {
	if size <= 0 {
		size = 256
	}
	return &Writer{
		store:  store,
		ch:     make(chan model.JournalEntry, size),
		logger: logger.With(logging.Component("journal")),
	}
}

// Observe 可直接作为 events.Observer 使用。队列满时丢弃。
func (w *Writer) Observe(e model.TokenEvent) {
	select {
	case w.ch <- FromEvent(e):
	default:
		w.dropped.Add(1)
		w.logger.Warn("journal 队列已满，丢弃事件", logging.SystemID(e.SystemID), logging.EventKind(string(e.Kind)))
	}
}

// Run 持续写库直到 ctx 取消；退出前把已入队的事件写完。
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case entry := <-w.ch:
			w.write(ctx, entry)
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case entry := <-w.ch:
			w.write(context.Background(), entry)
		default:
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, entry model.JournalEntry) {
	if err := w.store.Insert(ctx, &entry); err != nil {
		w.logger.Warn("写入 journal 失败", logging.SystemID(entry.SystemID), zap.Error(err))
	}
}

func (w *Writer) Dropped() uint64 { return w.dropped.Load() }
