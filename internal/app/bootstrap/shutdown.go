package bootstrap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/master"
)

const (
	httpShutdownTimeout   = 10 * time.Second
	masterShutdownTimeout = 5 * time.Second
)

type feedbackCloser interface {
	Close()
}

type httpStopper interface {
	Shutdown(ctx context.Context) error
}

type masterStopper interface {
	Close(ctx context.Context) error
	State() master.State
}

// shutdown 按顺序停止：先关闭反馈订阅（结束 SSE 长连接），再停 HTTP，最后断开主控。
// 主控使用独立的超时，HTTP 耗尽时限时仍能完成断开。
func shutdown(log *zap.Logger, hub feedbackCloser, httpSrv httpStopper, ctrl masterStopper) {
	hub.Close()
	log.Info("feedback subscribers closed")

	hctx, hcancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := httpSrv.Shutdown(hctx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	hcancel()
	log.Info("http server stopped")

	mctx, mcancel := context.WithTimeout(context.Background(), masterShutdownTimeout)
	if err := ctrl.Close(mctx); err != nil {
		log.Warn("master shutdown", zap.Error(err))
	}
	mcancel()
	log.Info("master stopped", zap.Stringer("state", ctrl.State()))
}
