package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tokenwatch/internal/agent/filter"
	"tokenwatch/internal/agent/httpmatcher"
	"tokenwatch/internal/logging"
	"tokenwatch/pkg/model"
)

const (
	DefaultSnaplen     = 65535
	DefaultReadTimeout = time.Second
	DefaultStopTimeout = 3 * time.Second

	readErrorBackoff = 100 * time.Millisecond
)

type Options struct {
	Backend     Backend
	Ports       []int
	Snaplen     int
	ReadTimeout time.Duration
	StopTimeout time.Duration
}

// Handler 在抓包线程上同步调用，必须尽快返回。
type Handler func(seg httpmatcher.Segment)

type Lister func() ([]model.NetworkDevice, error)

// run 是一次抓包会话的私有状态，停止信号和计数只属于这一次会话。
// 超时未退出的旧读循环只会改动自己的 run，不会污染新会话。
type run struct {
	stop atomic.Bool
	done chan struct{}

	packets    atomic.Uint64
	bytes      atomic.Uint64
	readErrors atomic.Uint64
}

// Controller 管理唯一的抓包会话：同一时刻最多一个后台读循环。
type Controller struct {
	opts    Options
	list    Lister
	open    Opener
	handler Handler
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	session model.CaptureSession
	current *run
}

type ControllerOption func(*Controller)

func WithLister(l Lister) ControllerOption {
	return func(c *Controller) { c.list = l }
}

func WithOpener(o Opener) ControllerOption {
	return func(c *Controller) { c.open = o }
}

func NewController(opts Options, handler Handler, logger *zap.Logger, options ...ControllerOption) (*Controller, error) {
	if opts.Backend == "" {
		opts.Backend = BackendPcap
	}
	if len(opts.Ports) == 0 {
		opts.Ports = filter.DefaultPorts
	}
	if opts.Snaplen <= 0 {
		opts.Snaplen = DefaultSnaplen
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if _, err := filter.Expression(opts.Ports); err != nil {
		return nil, fmt.Errorf("%w：%w", ErrFilterInvalid, err)
	}

	c := &Controller{
		opts:    opts,
		list:    ListDevices,
		handler: handler,
		logger:  logger.With(logging.Component("capture"), logging.Backend(string(opts.Backend))),
		now:     time.Now,
		session: model.CaptureSession{Backend: string(opts.Backend), Message: "未启动"},
	}
	for _, o := range options {
		o(c)
	}
	if c.open == nil {
		open, err := OpenerFor(opts.Backend)
		if err != nil {
			return nil, err
		}
		c.open = open
	}
	return c, nil
}

func (c *Controller) ListDevices() ([]model.NetworkDevice, error) {
	return c.list()
}

// Start 在 device 上启动后台抓包。已有会话在运行时返回 ErrAlreadyRunning。
func (c *Controller) Start(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Running {
		return fmt.Errorf("%w：%s", ErrAlreadyRunning, c.session.DeviceName)
	}

	devices, err := c.list()
	if err != nil {
		return err
	}
	if !findDevice(devices, device) {
		return fmt.Errorf("%w：%s", ErrDeviceNotFound, device)
	}

	src, err := c.open(device, OpenOptions{
		Snaplen:     c.opts.Snaplen,
		Promiscuous: true,
		ReadTimeout: c.opts.ReadTimeout,
		Ports:       c.opts.Ports,
	})
	if err != nil {
		c.logger.Warn("打开网卡失败", logging.Device(device), zap.Error(err))
		return err
	}

	r := &run{done: make(chan struct{})}
	c.current = r
	start := c.now()
	c.session = model.CaptureSession{
		Running:    true,
		DeviceName: device,
		Backend:    string(c.opts.Backend),
		StartTime:  &start,
		Message:    "正在抓包",
	}

	go c.loop(src, device, r)

	c.logger.Info("开始抓包", logging.Device(device), zap.Ints("ports", c.opts.Ports))
	return nil
}

// Stop 通知读循环退出，并最多等待 StopTimeout。
// 超时后直接返回，读循环会在下一次读超时后自行退出。
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.session.Running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	r := c.current
	device := c.session.DeviceName
	r.stop.Store(true)
	c.session.Running = false
	c.session.Message = "已停止"
	c.mu.Unlock()

	select {
	case <-r.done:
		c.logger.Info("抓包已停止", logging.Device(device))
	case <-time.After(c.opts.StopTimeout):
		c.logger.Warn("抓包线程未在超时内退出，放弃等待", logging.Device(device), zap.Duration("timeout", c.opts.StopTimeout))
		c.mu.Lock()
		if c.current == r {
			c.session.Message = "已停止（抓包线程未及时退出）"
		}
		c.mu.Unlock()
	}
	return nil
}

// Status 返回会话快照，HTTPMessages / DroppedMessages 由上层填充。
func (c *Controller) Status() model.CaptureSession {
	c.mu.Lock()
	s := c.session
	r := c.current
	c.mu.Unlock()
	if s.StartTime != nil {
		t := *s.StartTime
		s.StartTime = &t
	}
	if r != nil {
		s.PacketsCaptured = r.packets.Load()
		s.BytesCaptured = r.bytes.Load()
		s.ReadErrors = r.readErrors.Load()
	}
	return s
}

func (c *Controller) loop(src Source, device string, r *run) {
	defer close(r.done)
	defer src.Close()

	linkType := src.LinkType()
	for !r.stop.Load() {
		data, ci, err := src.ReadPacketData()
		// 阻塞读期间可能已被停止
		if r.stop.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if errors.Is(err, io.EOF) {
				c.finish(r, "抓包源已关闭")
				return
			}
			n := r.readErrors.Add(1)
			if n == 1 || n%100 == 0 {
				c.logger.Warn("读取数据包失败，稍后重试", logging.Device(device), zap.Uint64("errors", n),
					zap.Error(fmt.Errorf("%w：%w", ErrReadFailure, err)))
			}
			time.Sleep(readErrorBackoff)
			continue
		}

		r.packets.Add(1)
		r.bytes.Add(uint64(len(data)))

		seg, ok := Decode(data, linkType, ci.Timestamp)
		if !ok {
			continue
		}
		c.dispatch(seg)
	}
}

func (c *Controller) dispatch(seg httpmatcher.Segment) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("处理数据包异常", zap.Any("panic", r))
		}
	}()
	c.handler(seg)
}

// finish 在读循环自行结束时更新会话；会话已被 Stop 或新的 Start 接管时不做处理。
func (c *Controller) finish(r *run, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == r && c.session.Running {
		c.session.Running = false
		c.session.Message = msg
		c.logger.Info(msg, logging.Device(c.session.DeviceName))
	}
}
