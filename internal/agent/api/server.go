package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tokenwatch/internal/logging"
)

// NewRouter 注册 /api/v1 下的全部路由。
func NewRouter(svc Service, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	h := NewHandlers(svc)
	v1 := router.Group("/api/v1")
	{
		v1.GET("/devices", h.Devices)
		v1.POST("/capture/start", h.StartCapture)
		v1.POST("/capture/stop", h.StopCapture)
		v1.GET("/capture/status", h.CaptureStatus)
		v1.GET("/tokens", h.Tokens)
		v1.GET("/tokens/:id", h.Token)
		v1.GET("/tokens/:id/request", h.LastRequest)
		v1.DELETE("/tokens/:id", h.ClearToken)
		v1.DELETE("/tokens", h.ClearAllTokens)
		v1.GET("/events", h.Events)
		v1.GET("/events/ws", h.EventStream(logger))
		v1.GET("/journal", h.Journal)
	}
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.With(logging.Component("api"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("请求完成",
			logging.Method(c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			logging.Addr(c.ClientIP()),
		)
	}
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(addr string, svc Service, logger *zap.Logger) *Server {
	if addr == "" {
		addr = ":8765"
	}
	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)
	return &Server{
		logger: logger.With(logging.Component("api")),
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(svc, logger),
			ErrorLog:          errLog,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Serve 阻塞运行直到 ctx 取消，然后优雅关闭。
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 监听", logging.Addr(s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API 服务启动失败：%w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("API 关闭失败", zap.Error(err))
	}
	return nil
}
