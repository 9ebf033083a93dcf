// Package app 是 agent 的应用上下文：启动时把抓包、报文还原、认证、
// token 存储、过期检查和事件总线一次性组装好，对外暴露控制操作。
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tokenwatch/internal/agent/api"
	"tokenwatch/internal/agent/auth"
	"tokenwatch/internal/agent/capture"
	"tokenwatch/internal/agent/dispatch"
	"tokenwatch/internal/agent/events"
	"tokenwatch/internal/agent/expiry"
	"tokenwatch/internal/agent/httpmatcher"
	"tokenwatch/internal/agent/journal"
	"tokenwatch/internal/agent/report"
	"tokenwatch/internal/agent/tokenstore"
	"tokenwatch/internal/logging"
	"tokenwatch/pkg/model"
)

type App struct {
	cfg    Config
	logger *zap.Logger

	store    *tokenstore.Store
	bus      *events.Bus
	registry *auth.Registry
	recon    *httpmatcher.Reconstructor
	corr     *httpmatcher.Correlator
	queue    *dispatch.Queue
	capture  *capture.Controller
	monitor  *expiry.Monitor

	journal       journal.Store
	journalWriter *journal.Writer
	reportSink    *report.Sink

	httpMessages atomic.Uint64
}

type options struct {
	systems []auth.Config
	now     func() time.Time
	lister  capture.Lister
	opener  capture.Opener
}

type Option func(*options)

// WithSystems 替换内置的业务系统表。
func WithSystems(cfgs []auth.Config) Option {
	return func(o *options) { o.systems = cfgs }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithCaptureSource(lister capture.Lister, opener capture.Opener) Option {
	return func(o *options) {
		o.lister = lister
		o.opener = opener
	}
}

func New(cfg Config, logger *zap.Logger, opts ...Option) (*App, error) {
	cfg = cfg.withDefaults()
	o := options{systems: auth.BuiltinSystems(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:    cfg,
		logger: logger.With(logging.Component("app")),
		store:  tokenstore.New(tokenstore.WithClock(o.now)),
		recon:  httpmatcher.NewReconstructor(),
		corr:   httpmatcher.NewCorrelator(cfg.FlowTimeout),
	}

	js, err := openJournal(cfg.JournalDriver, cfg.JournalPath)
	if err != nil {
		return nil, err
	}
	observers := []events.Observer{events.LogObserver(logger.With(logging.Component("token")), auth.Mask)}
	if js != nil {
		a.journal = js
		a.journalWriter = journal.NewWriter(js, 256, logger)
		observers = append(observers, a.journalWriter.Observe)
	}
	a.bus = events.NewBus(cfg.HistorySize, logger, observers...)

	a.registry, err = auth.NewRegistry(o.systems, a.store, a.bus, logger,
		auth.WithClock(o.now), auth.WithScanResponses(cfg.ScanResponses))
	if err != nil {
		a.closeJournal()
		return nil, err
	}

	a.queue = dispatch.New(cfg.QueueSize, a.handleMessage, logger)
	a.monitor = expiry.New(a.store, a.registry.Name, a.bus, cfg.ExpiryInterval, logger, expiry.WithClock(o.now))

	var ctrlOpts []capture.ControllerOption
	if o.lister != nil {
		ctrlOpts = append(ctrlOpts, capture.WithLister(o.lister))
	}
	if o.opener != nil {
		ctrlOpts = append(ctrlOpts, capture.WithOpener(o.opener))
	}
	a.capture, err = capture.NewController(capture.Options{
		Backend:     capture.Backend(cfg.Backend),
		Ports:       cfg.Ports,
		Snaplen:     cfg.Snaplen,
		ReadTimeout: cfg.ReadTimeout,
		StopTimeout: cfg.StopTimeout,
	}, a.onSegment, logger, ctrlOpts...)
	if err != nil {
		a.closeJournal()
		return nil, err
	}

	if cfg.ReportURL != "" {
		a.reportSink = report.NewSink(report.NewClient(cfg.ReportURL, cfg.ReportTimeout), 64, logger)
		a.bus.Subscribe(a.reportSink)
	}
	return a, nil
}

// onSegment 运行在抓包线程上：只做解析和入队。
func (a *App) onSegment(seg httpmatcher.Segment) {
	m, ok := a.recon.Reconstruct(seg)
	if !ok {
		return
	}
	a.httpMessages.Add(1)

	switch m.Direction {
	case httpmatcher.DirectionRequest:
		if a.cfg.ScanResponses {
			a.corr.ObserveRequest(m)
		}
	case httpmatcher.DirectionResponse:
		if !a.cfg.ScanResponses || !a.corr.ResolveResponse(m) {
			return
		}
	}
	a.queue.Submit(m)
}

func (a *App) handleMessage(m *httpmatcher.Message) {
	a.registry.Process(m)
}

// Run 启动后台任务并阻塞到 ctx 取消；退出时停止抓包并关闭 journal。
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	spawn(a.queue.Run)
	spawn(a.monitor.Run)
	if a.journalWriter != nil {
		spawn(a.journalWriter.Run)
	}
	if a.reportSink != nil {
		spawn(a.reportSink.Run)
	}
	if a.cfg.ScanResponses {
		spawn(a.cleanupFlows)
	}

	if a.cfg.Interface != "" {
		if err := a.StartCapture(a.cfg.Interface); err != nil {
			a.logger.Error("自动启动抓包失败", logging.Device(a.cfg.Interface), zap.Error(err))
		}
	}

	<-ctx.Done()
	if err := a.StopCapture(); err != nil && !errors.Is(err, capture.ErrNotRunning) {
		a.logger.Warn("停止抓包失败", zap.Error(err))
	}
	wg.Wait()
	a.closeJournal()
	return nil
}

func (a *App) cleanupFlows(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.corr.Cleanup(now)
		}
	}
}

func (a *App) closeJournal() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("关闭 journal 失败", zap.Error(err))
	}
}

func (a *App) ListDevices() ([]model.NetworkDevice, error) {
	return a.capture.ListDevices()
}

func (a *App) StartCapture(device string) error {
	return a.capture.Start(device)
}

func (a *App) StopCapture() error {
	return a.capture.Stop()
}

func (a *App) CaptureStatus() model.CaptureSession {
	s := a.capture.Status()
	s.HTTPMessages = a.httpMessages.Load()
	s.DroppedMessages = a.queue.Dropped()
	return s
}

func (a *App) TokenStatuses() []model.TokenStatus {
	return a.store.Snapshot(a.registry.Systems())
}

func (a *App) HasSystem(systemID string) bool {
	return a.registry.Has(systemID)
}

// Token 只返回存在且未过期的 token。
func (a *App) Token(systemID string) (string, bool) {
	return a.store.Token(systemID)
}

func (a *App) ClearToken(systemID string) error {
	if !a.registry.Has(systemID) {
		return fmt.Errorf("%w：%s", auth.ErrUnknownSystem, systemID)
	}
	if a.store.Clear(systemID) {
		a.logger.Info("已清除 token", logging.SystemID(systemID))
	}
	return nil
}

func (a *App) ClearAllTokens() int {
	n := a.store.ClearAll()
	a.logger.Info("已清除全部 token", zap.Int("count", n))
	return n
}

// SubscribeEvents 设置唯一的外部事件消费者，替换之前的消费者。
func (a *App) SubscribeEvents(sink events.Sink) (unsubscribe func()) {
	return a.bus.Subscribe(sink)
}

func (a *App) EventHistory() []model.TokenEvent {
	return a.bus.History()
}

func (a *App) LastRequest(systemID string) (*httpmatcher.Message, bool) {
	return a.registry.LastRequest(systemID)
}

func (a *App) Journal(ctx context.Context, systemID string, limit int) ([]model.JournalEntry, error) {
	if a.journal == nil {
		return nil, journal.ErrDisabled
	}
	return a.journal.Recent(ctx, systemID, limit)
}

var _ api.Service = (*App)(nil)

// Run 组装 App 和控制 API，阻塞到 ctx 取消。
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	a, err := New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := api.NewServer(a.cfg.ListenAddr, a, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx)
		// API 起不来时整个 agent 退出
		cancel()
	}()

	runErr := a.Run(ctx)
	if err := <-errCh; err != nil {
		return err
	}
	return runErr
}
