package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tokenwatch/internal/logging"
	"tokenwatch/pkg/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 64
)

var errSinkBusy = errors.New("websocket 发送缓冲已满")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 只监听本机地址时由部署方控制访问，这里不校验 Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink 把事件转发到一个 websocket 连接；Deliver 只写入缓冲，不做网络 IO。
type wsSink struct {
	ch chan model.TokenEvent
}

func (s *wsSink) Deliver(e model.TokenEvent) error {
	select {
	case s.ch <- e:
		return nil
	default:
		return errSinkBusy
	}
}

// EventStream 把连接挂为唯一的事件消费者：先回放历史，再推送实时事件。
// 新连接会顶替旧连接。
func (h *Handlers) EventStream(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.With(logging.Component("ws"))
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("升级 websocket 失败", logging.Addr(c.ClientIP()), zap.Error(err))
			return
		}
		defer conn.Close()

		// 先订阅再取历史：两者之间的事件可能重复出现，按 ID 去重
		sink := &wsSink{ch: make(chan model.TokenEvent, wsBuffer)}
		unsubscribe := h.svc.SubscribeEvents(sink)
		defer unsubscribe()
		history := h.svc.EventHistory()
		replayed := make(map[string]struct{}, len(history))
		logger.Info("websocket 已连接", logging.Addr(c.ClientIP()))

		// 读循环只用于感知对端关闭
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for _, e := range history {
			replayed[e.ID] = struct{}{}
			if err := writeJSON(conn, e); err != nil {
				return
			}
		}

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				logger.Info("websocket 已断开", logging.Addr(c.ClientIP()))
				return
			case <-c.Request.Context().Done():
				return
			case e := <-sink.ch:
				if _, dup := replayed[e.ID]; dup {
					delete(replayed, e.ID)
					continue
				}
				if err := writeJSON(conn, e); err != nil {
					logger.Warn("websocket 写入失败", zap.Error(err))
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
