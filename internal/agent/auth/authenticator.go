package auth

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"tokenwatch/internal/agent/httpmatcher"
)

// Config 描述一个业务系统的 token 抓取方式。启动时构建一次，之后只读。
type Config struct {
	SystemID     string
	Name         string
	URLPattern   string // 匹配完整 URL（scheme://host/path）
	HeaderName   string // 不区分大小写
	TokenPattern string // 取第一个捕获组
	Rules        []Rule
	Expiry       time.Duration
}

type Authenticator struct {
	cfg     Config
	urlRe   *regexp.Regexp
	tokenRe *regexp.Regexp
}

func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.SystemID == "" {
		return nil, errors.New("system_id 不能为空")
	}
	if cfg.HeaderName == "" {
		return nil, fmt.Errorf("系统 [%s] header 名称不能为空", cfg.SystemID)
	}
	if cfg.Expiry <= 0 {
		return nil, fmt.Errorf("系统 [%s] 过期时间必须大于 0", cfg.SystemID)
	}
	urlRe, err := regexp.Compile(cfg.URLPattern)
	if err != nil {
		return nil, fmt.Errorf("系统 [%s] URL 正则编译失败：%w", cfg.SystemID, err)
	}
	tokenRe, err := regexp.Compile(cfg.TokenPattern)
	if err != nil {
		return nil, fmt.Errorf("系统 [%s] token 正则编译失败：%w", cfg.SystemID, err)
	}
	if tokenRe.NumSubexp() < 1 {
		return nil, fmt.Errorf("系统 [%s] token 正则缺少捕获组", cfg.SystemID)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.SystemID
	}
	return &Authenticator{cfg: cfg, urlRe: urlRe, tokenRe: tokenRe}, nil
}

func (a *Authenticator) SystemID() string      { return a.cfg.SystemID }
func (a *Authenticator) Name() string          { return a.cfg.Name }
func (a *Authenticator) Expiry() time.Duration { return a.cfg.Expiry }

// Evaluation 是单个系统对单条报文的判定结果。
type Evaluation struct {
	Matched bool   // URL + header + 正则都命中，Token 有值
	Token   string
	URL     string
	Err     error // 校验失败；Matched 仍为 true
}

// Evaluate 执行 URL 匹配 → 取 header → 正则提取 → 规则校验，不接触存储。
func (a *Authenticator) Evaluate(m *httpmatcher.Message, scanResponses bool) Evaluation {
	switch m.Direction {
	case httpmatcher.DirectionRequest:
	case httpmatcher.DirectionResponse:
		if !scanResponses || m.RequestURL == "" {
			return Evaluation{}
		}
	default:
		return Evaluation{}
	}

	url := m.URL()
	if !a.urlRe.MatchString(url) {
		return Evaluation{}
	}
	value, ok := m.Header(a.cfg.HeaderName)
	if !ok {
		return Evaluation{URL: url}
	}
	sub := a.tokenRe.FindStringSubmatch(value)
	if len(sub) < 2 || sub[1] == "" {
		return Evaluation{URL: url}
	}

	ev := Evaluation{Matched: true, Token: sub[1], URL: url}
	ev.Err = Validate(a.cfg.Rules, ev.Token)
	return ev
}

// Mask 只保留 token 前几位，用于日志。
func Mask(token string) string {
	const keep = 6
	if len(token) <= keep {
		return fmt.Sprintf("***(%d)", len(token))
	}
	return fmt.Sprintf("%s***(%d)", token[:keep], len(token))
}
