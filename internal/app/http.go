package app

import (
	"net/http"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/rs485-master/internal/config"
	"github.com/taoyao-code/rs485-master/internal/httpserver"
)

// NewHTTPServer 根据配置创建 HTTP 服务器
func NewHTTPServer(cfg *cfgpkg.Config, metricsHandler http.Handler, readyFn func() bool, log *zap.Logger) *httpserver.Server {
	opts := []httpserver.Option{
		httpserver.WithReady(readyFn),
		httpserver.WithAccessLog(log),
	}
	if cfg.Metrics.Enable {
		opts = append(opts, httpserver.WithMetrics(cfg.Metrics.Path, metricsHandler))
	}
	return httpserver.New(cfg.HTTP, opts...)
}
