package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/rs485-master/internal/config"
)

// Server HTTP 服务封装
type Server struct {
	srv    *http.Server
	engine *gin.Engine
}

// Option 服务可选项
type Option func(*options)

type options struct {
	metricsPath    string
	metricsHandler http.Handler
	readyFn        func() bool
	logger         *zap.Logger
}

// WithMetrics 注册指标路由
func WithMetrics(path string, h http.Handler) Option {
	return func(o *options) { o.metricsPath, o.metricsHandler = path, h }
}

// WithReady /readyz 判定函数
func WithReady(fn func() bool) Option {
	return func(o *options) { o.readyFn = fn }
}

// WithAccessLog 使用 zap 记录访问日志
func WithAccessLog(log *zap.Logger) Option {
	return func(o *options) { o.logger = log }
}

// New 创建并配置 Gin + HTTP Server，注册健康检查与指标路由
func New(cfg cfgpkg.HTTPConfig, opts ...Option) *Server {
	o := options{metricsPath: "/metrics"}
	for _, opt := range opts {
		opt(&o)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if o.logger != nil {
		r.Use(accessLog(o.logger))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if o.readyFn == nil || o.readyFn() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if o.metricsHandler != nil {
		if o.metricsPath == "" {
			o.metricsPath = "/metrics"
		}
		r.GET(o.metricsPath, gin.WrapH(o.metricsHandler))
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv, engine: r}
}

// Engine 供业务包注册路由
func (s *Server) Engine() *gin.Engine { return s.engine }

// Register 批量注册业务路由
func (s *Server) Register(fns ...func(r *gin.Engine)) {
	for _, fn := range fns {
		fn(s.engine)
	}
}

// Handler 完整的 HTTP 处理器
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start 启动 HTTP 服务（阻塞）；正常关闭时返回 nil
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		)
	}
}
