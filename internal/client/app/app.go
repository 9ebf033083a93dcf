package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tokenwatch/pkg/model"
)

type Config struct {
	Server  string
	Timeout time.Duration
}

// Client 调用 agent 的控制 API 并把结果渲染成表格。
type Client struct {
	base   *url.URL
	client *http.Client
	out    io.Writer
}

func New(cfg Config, out io.Writer) (*Client, error) {
	u, err := url.Parse(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("server 参数非法：%w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server 参数非法：%s", cfg.Server)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{base: u, client: &http.Client{Timeout: cfg.Timeout}, out: out}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1" + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化 JSON 失败：%w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s 失败：status=%s error=%s", path, resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s 失败：status=%s body=%s", path, resp.Status, string(b))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应 JSON 失败：%w", err)
	}
	return nil
}

// Status 输出抓包状态和所有系统的 token 状态。
func (c *Client) Status(ctx context.Context) error {
	var session model.CaptureSession
	if err := c.do(ctx, http.MethodGet, "/capture/status", nil, nil, &session); err != nil {
		return err
	}
	var statuses []model.TokenStatus
	if err := c.do(ctx, http.MethodGet, "/tokens", nil, nil, &statuses); err != nil {
		return err
	}
	renderSession(c.out, session)
	renderStatuses(c.out, statuses)
	return nil
}

// Token 只输出 token 本身，便于脚本直接使用。
func (c *Client) Token(ctx context.Context, systemID string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/tokens/"+url.PathEscape(systemID), nil, nil, &resp); err != nil {
		return err
	}
	fmt.Fprintln(c.out, resp.Token)
	return nil
}

func (c *Client) Request(ctx context.Context, systemID string) error {
	var snap model.RequestSnapshot
	if err := c.do(ctx, http.MethodGet, "/tokens/"+url.PathEscape(systemID)+"/request", nil, nil, &snap); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s %s\n", snap.Method, snap.URL, snap.Version)
	fmt.Fprintf(c.out, "%s:%d -> %s:%d  %s\n", snap.SrcIP, snap.SrcPort, snap.DstIP, snap.DstPort, snap.Timestamp.Format(time.RFC3339))
	for _, h := range snap.Headers {
		fmt.Fprintf(c.out, "%s: %s\n", h[0], h[1])
	}
	return nil
}

// Clear 清除单个系统的 token；systemID 为空时清除全部。
func (c *Client) Clear(ctx context.Context, systemID string) error {
	if systemID == "" {
		var resp struct {
			Cleared int `json:"cleared"`
		}
		if err := c.do(ctx, http.MethodDelete, "/tokens", nil, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "已清除 %d 个 token\n", resp.Cleared)
		return nil
	}
	if err := c.do(ctx, http.MethodDelete, "/tokens/"+url.PathEscape(systemID), nil, nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "已清除 %s\n", systemID)
	return nil
}

func (c *Client) Events(ctx context.Context) error {
	var evs []model.TokenEvent
	if err := c.do(ctx, http.MethodGet, "/events", nil, nil, &evs); err != nil {
		return err
	}
	renderEvents(c.out, evs)
	return nil
}

func (c *Client) Devices(ctx context.Context) error {
	var devices []model.NetworkDevice
	if err := c.do(ctx, http.MethodGet, "/devices", nil, nil, &devices); err != nil {
		return err
	}
	renderDevices(c.out, devices)
	return nil
}

func (c *Client) Start(ctx context.Context, device string) error {
	var session model.CaptureSession
	if err := c.do(ctx, http.MethodPost, "/capture/start", nil, map[string]string{"device": device}, &session); err != nil {
		return err
	}
	renderSession(c.out, session)
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	var session model.CaptureSession
	if err := c.do(ctx, http.MethodPost, "/capture/stop", nil, nil, &session); err != nil {
		return err
	}
	renderSession(c.out, session)
	return nil
}

func (c *Client) Journal(ctx context.Context, systemID string, limit int) error {
	q := url.Values{}
	if systemID != "" {
		q.Set("system", systemID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var rows []model.JournalEntry
	if err := c.do(ctx, http.MethodGet, "/journal", q, nil, &rows); err != nil {
		return err
	}
	renderJournal(c.out, rows)
	return nil
}
