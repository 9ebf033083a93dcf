package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenwatch/internal/agent/events"
	"tokenwatch/internal/agent/httpmatcher"
	"tokenwatch/internal/agent/tokenstore"
	"tokenwatch/internal/logging"
	"tokenwatch/pkg/model"
)

var ErrUnknownSystem = errors.New("未知的系统")

// Emitter 是 registry 对事件总线的最小依赖。
type Emitter interface {
	Emit(e model.TokenEvent)
}

type Registry struct {
	auths  []*Authenticator
	byID   map[string]*Authenticator
	store  *tokenstore.Store
	bus    Emitter
	logger *zap.Logger
	now    func() time.Time

	scanResponses bool
	lastReq       sync.Map // system_id -> *httpmatcher.Message
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithScanResponses(on bool) Option {
	return func(r *Registry) { r.scanResponses = on }
}

func NewRegistry(cfgs []Config, store *tokenstore.Store, bus Emitter, logger *zap.Logger, opts ...Option) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]*Authenticator, len(cfgs)),
		store:  store,
		bus:    bus,
		logger: logger.With(logging.Component("auth")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, cfg := range cfgs {
		a, err := NewAuthenticator(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byID[a.SystemID()]; dup {
			return nil, fmt.Errorf("系统 [%s] 重复注册", a.SystemID())
		}
		r.auths = append(r.auths, a)
		r.byID[a.SystemID()] = a
	}
	return r, nil
}

func (r *Registry) Systems() []tokenstore.System {
	out := make([]tokenstore.System, 0, len(r.auths))
	for _, a := range r.auths {
		out = append(out, tokenstore.System{ID: a.SystemID(), Name: a.Name()})
	}
	return out
}

func (r *Registry) Has(systemID string) bool {
	_, ok := r.byID[systemID]
	return ok
}

// Name 返回系统显示名；未注册的系统原样返回 id。
func (r *Registry) Name(systemID string) string {
	if a, ok := r.byID[systemID]; ok {
		return a.Name()
	}
	return systemID
}

// LastRequest 返回最近一次为该系统带来新 token 的报文。
func (r *Registry) LastRequest(systemID string) (*httpmatcher.Message, bool) {
	v, ok := r.lastReq.Load(systemID)
	if !ok {
		return nil, false
	}
	return v.(*httpmatcher.Message), true
}

// Process 让每个系统独立评估同一条报文，返回本次写入存储的次数。
// 单个系统出错（包括 panic）只记录日志，不影响其他系统。
func (r *Registry) Process(m *httpmatcher.Message) int {
	updated := 0
	for _, a := range r.auths {
		if r.processOne(a, m) {
			updated++
		}
	}
	return updated
}

func (r *Registry) processOne(a *Authenticator, m *httpmatcher.Message) (updated bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("处理报文异常", logging.SystemID(a.SystemID()), zap.Any("panic", rec))
			updated = false
		}
	}()

	ev := a.Evaluate(m, r.scanResponses)
	if !ev.Matched {
		return false
	}
	now := r.now()
	if ev.Err != nil {
		r.logger.Debug("token 校验未通过", logging.SystemID(a.SystemID()), logging.URL(ev.URL),
			zap.String("token", Mask(ev.Token)), zap.Error(ev.Err))
		r.bus.Emit(events.NewFailed(a.SystemID(), a.Name(), ev.URL, ev.Err, now))
		return false
	}
	if cur, ok := r.store.Token(a.SystemID()); ok && cur == ev.Token {
		return false
	}

	rec := tokenstore.Record{
		Token:      ev.Token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(a.Expiry()),
		Valid:      true,
		SourceURL:  ev.URL,
	}
	r.store.Update(a.SystemID(), rec)
	r.lastReq.Store(a.SystemID(), m)
	r.bus.Emit(events.NewAcquired(a.SystemID(), a.Name(), rec.Token, rec.AcquiredAt, rec.ExpiresAt, rec.SourceURL))
	return true
}
