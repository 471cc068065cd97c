package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/api/middleware"
	"github.com/taoyao-code/rs485-master/internal/driver"
	"github.com/taoyao-code/rs485-master/internal/feedback"
	"github.com/taoyao-code/rs485-master/internal/master"
	"github.com/taoyao-code/rs485-master/internal/protocol/mabmgb"
)

const defaultCommandTimeout = 10 * time.Second

// Commander 执行主控命令（*app.Controller 或 *master.Actor）
type Commander interface {
	Execute(ctx context.Context, cmd master.Command) error
	State() master.State
}

// FeedbackSource 反馈事件来源
type FeedbackSource interface {
	Subscribe() *feedback.Subscription
	Unsubscribe(s *feedback.Subscription)
}

// Handler 主控命令与反馈的 HTTP 处理器
type Handler struct {
	cmd     Commander
	events  FeedbackSource
	book    *mabmgb.AddressBook
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler 创建处理器；events 为 nil 时不提供反馈流
func NewHandler(cmd Commander, events FeedbackSource, book *mabmgb.AddressBook, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if book == nil {
		book = mabmgb.DefaultAddressBook()
	}
	return &Handler{
		cmd:     cmd,
		events:  events,
		book:    book,
		timeout: defaultCommandTimeout,
		logger:  logger,
	}
}

// commandResponse 命令执行结果
type commandResponse struct {
	OK        bool   `json:"ok"`
	Command   string `json:"command"`
	State     string `json:"state"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ExecuteCommand 执行命令
//
//	POST /api/commands/:name
//	Body: {"addr":"mab","cmd_code":"0x44","payload":"01 02"}（参数均为字符串，可省略）
func (h *Handler) ExecuteCommand(c *gin.Context) {
	name := c.Param("name")
	resp := commandResponse{Command: name, RequestID: middleware.RequestID(c)}

	args := map[string]string{}
	if err := c.ShouldBindJSON(&args); err != nil && !errors.Is(err, io.EOF) {
		resp.State = h.cmd.State().String()
		resp.Error = err.Error()
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	cmd, err := master.ParseCommand(name, args, h.book)
	if err != nil {
		resp.State = h.cmd.State().String()
		resp.Error = err.Error()
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	err = h.cmd.Execute(ctx, cmd)

	resp.State = h.cmd.State().String()
	if err != nil {
		h.logger.Warn("command rejected",
			zap.String("command", name),
			zap.String("request_id", resp.RequestID),
			zap.Error(err),
		)
		resp.Error = err.Error()
		c.JSON(statusOf(err), resp)
		return
	}
	resp.OK = true
	c.JSON(http.StatusOK, resp)
}

// statusOf 命令错误映射为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, master.ErrInvalidCommand), errors.Is(err, mabmgb.ErrPayloadTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, master.ErrInvalidState), errors.Is(err, master.ErrConnectPending):
		return http.StatusConflict
	case errors.Is(err, driver.ErrChannel):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Status 主控状态
//
//	GET /api/status
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.cmd.State().String()})
}

// StreamFeedback 以 SSE 推送反馈事件，事件名为信号名
//
//	GET /api/feedback
func (h *Handler) StreamFeedback(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feedback stream disabled"})
		return
	}
	sub := h.events.Subscribe()
	defer h.events.Unsubscribe(sub)

	// 长连接不受服务端 WriteTimeout 限制
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("clear write deadline failed", zap.Error(err))
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	// 先发出响应头，客户端无需等待第一条事件
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(ev.Signal, ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
