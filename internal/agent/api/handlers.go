package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tokenwatch/internal/agent/auth"
	"tokenwatch/internal/agent/capture"
	"tokenwatch/internal/agent/events"
	"tokenwatch/internal/agent/httpmatcher"
	"tokenwatch/internal/agent/journal"
	"tokenwatch/pkg/model"
)

// Service 是控制 API 依赖的应用能力，由 app.App 实现。
type Service interface {
	ListDevices() ([]model.NetworkDevice, error)
	StartCapture(device string) error
	StopCapture() error
	CaptureStatus() model.CaptureSession
	TokenStatuses() []model.TokenStatus
	HasSystem(systemID string) bool
	Token(systemID string) (string, bool)
	ClearToken(systemID string) error
	ClearAllTokens() int
	SubscribeEvents(sink events.Sink) (unsubscribe func())
	EventHistory() []model.TokenEvent
	LastRequest(systemID string) (*httpmatcher.Message, bool)
	Journal(ctx context.Context, systemID string, limit int) ([]model.JournalEntry, error)
}

type Handlers struct {
	svc Service
}

func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

type startRequest struct {
	Device string `json:"device"`
}

// TokenResponse 是 GET /tokens/:id 的响应。
type TokenResponse struct {
	SystemID string            `json:"system_id"`
	Token    string            `json:"token"`
	Status   model.TokenStatus `json:"status"`
}

func (h *Handlers) Devices(c *gin.Context) {
	devices, err := h.svc.ListDevices()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

func (h *Handlers) StartCapture(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON 解析失败：" + err.Error()})
		return
	}
	if req.Device == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device 不能为空"})
		return
	}
	if err := h.svc.StartCapture(req.Device); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.CaptureStatus())
}

func (h *Handlers) StopCapture(c *gin.Context) {
	if err := h.svc.StopCapture(); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.CaptureStatus())
}

func (h *Handlers) CaptureStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.CaptureStatus())
}

func (h *Handlers) Tokens(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.TokenStatuses())
}

func (h *Handlers) Token(c *gin.Context) {
	id := c.Param("id")
	if !h.svc.HasSystem(id) {
		abort(c, auth.ErrUnknownSystem)
		return
	}
	tok, ok := h.svc.Token(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "尚未获取到有效 token", "system_id": id})
		return
	}
	resp := TokenResponse{SystemID: id, Token: tok}
	for _, st := range h.svc.TokenStatuses() {
		if st.SystemID == id {
			resp.Status = st
			break
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) LastRequest(c *gin.Context) {
	id := c.Param("id")
	if !h.svc.HasSystem(id) {
		abort(c, auth.ErrUnknownSystem)
		return
	}
	m, ok := h.svc.LastRequest(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "暂无命中的请求", "system_id": id})
		return
	}
	c.JSON(http.StatusOK, m.Snapshot())
}

func (h *Handlers) ClearToken(c *gin.Context) {
	if err := h.svc.ClearToken(c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ClearAllTokens(c *gin.Context) {
	n := h.svc.ClearAllTokens()
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (h *Handlers) Events(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.EventHistory())
}

func (h *Handlers) Journal(c *gin.Context) {
	limit := 200
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 2000 {
			limit = v
		}
	}
	rows, err := h.svc.Journal(c.Request.Context(), c.Query("system"), limit)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func abort(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrDeviceNotFound),
		errors.Is(err, auth.ErrUnknownSystem),
		errors.Is(err, journal.ErrDisabled):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrAlreadyRunning),
		errors.Is(err, capture.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, capture.ErrFilterInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
