// Package report 把 token 事件推送给下游自动化服务（POST JSON）。
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tokenwatch/internal/logging"
	"tokenwatch/pkg/model"
)

var ErrQueueFull = errors.New("上报队列已满")

type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Upload(ctx context.Context, e *model.TokenEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("序列化 JSON 失败：%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST 上报失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST 上报失败：status=%s", resp.Status)
	}
	return nil
}

// Sink 是事件总线的外部消费者：Deliver 只入队，网络请求在 Run 中完成，
// 认证 worker 不会被下游服务拖慢。
type Sink struct {
	client *Client
	ch     chan model.TokenEvent
	logger *zap.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewSink(client *Client, size int, logger *zap.Logger) *Sink {
	if size <= 0 {
		size = 64
	}
	return &Sink{
		client: client,
		ch:     make(chan model.TokenEvent, size),
		logger: logger.With(logging.Component("report"), logging.URL(client.url)),
	}
}

func (s *Sink) Deliver(e model.TokenEvent) error {
	select {
	case s.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.ch:
			if err := s.client.Upload(ctx, &e); err != nil {
				s.failed.Add(1)
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("上报失败（忽略继续）", logging.SystemID(e.SystemID), logging.EventKind(string(e.Kind)), zap.Error(err))
				continue
			}
			s.sent.Add(1)
		}
	}
}

func (s *Sink) Stats() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}
