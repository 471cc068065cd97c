package bootstrap

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/api"
	"github.com/taoyao-code/rs485-master/internal/api/middleware"
	"github.com/taoyao-code/rs485-master/internal/app"
	cfgpkg "github.com/taoyao-code/rs485-master/internal/config"
	"github.com/taoyao-code/rs485-master/internal/feedback"
	"github.com/taoyao-code/rs485-master/internal/master"
	"github.com/taoyao-code/rs485-master/internal/metrics"
	"github.com/taoyao-code/rs485-master/internal/protocol/mabmgb"
)


// Run 统一启动流程，阻塞直到收到 SIGINT/SIGTERM
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting rs485 master", zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ========== 阶段1: 基础组件 ==========
	reg, appm := app.NewMetrics()
	metricsHandler := metrics.Handler(reg)

	book := mabmgb.DefaultAddressBook()
	if path := cfg.Protocol.AddressBook; path != "" {
		b, err := mabmgb.LoadAddressBook(path)
		if err != nil {
			log.Error("load address book failed", zap.String("path", path), zap.Error(err))
			return err
		}
		book = b
		log.Info("address book loaded", zap.String("path", path), zap.Int("devices", len(book.Devices)))
	}

	// ========== 阶段2: Redis（可选）与反馈分发 ==========
	redisClient, err := app.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	hubOpts := []feedback.Option{
		feedback.WithSubscribersHook(func(n int) { appm.FeedbackSubscribers.Set(float64(n)) }),
	}
	if pub := app.NewFeedbackPublisher(redisClient); pub != nil {
		hubOpts = append(hubOpts, feedback.WithPublisher(pub))
		log.Info("feedback will be published to redis", zap.String("channel", pub.Channel()))
	}
	hub := feedback.NewHub(log, hubOpts...)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// ========== 阶段3: 主控 ==========
	ctrl, err := app.NewController(context.Background(),
		app.NewTransportFactory(cfg.Driver, appm, log),
		log,
		app.WithDefaultParams(cfg.Driver.Params()),
		app.WithFeedback(hub.Feedback),
		app.WithAppMetrics(appm),
	)
	if err != nil {
		log.Error("controller initialization failed", zap.Error(err))
		hub.Close()
		return err
	}
	log.Info("master ready", zap.String("driver", cfg.Driver.Kind), zap.Stringer("state", ctrl.State()))

	// ========== 阶段4: HTTP 服务 ==========
	var ready atomic.Bool
	httpSrv := app.NewHTTPServer(cfg, metricsHandler, ready.Load, log)

	healthAgg := app.NewHealthAggregator(ctrl)
	app.AddRedisChecker(healthAgg, redisClient)

	httpSrv.Register(func(r *gin.Engine) {
		authCfg := middleware.AuthConfig{
			APIKeys: cfg.API.Auth.APIKeys,
			Enabled: cfg.API.Auth.Enabled,
		}
		rlCfg := middleware.RateLimitConfig{
			PerSecond: cfg.API.RateLimit.PerSecond,
			Burst:     cfg.API.RateLimit.Burst,
		}
		api.RegisterRoutes(r, api.NewHandler(ctrl, hub, book, log), authCfg, rlCfg, log)
		app.RegisterHealthRoutes(r, healthAgg)
	})

	httpErr := make(chan error, 1)
	go func() { httpErr <- httpSrv.Start() }()
	ready.Store(true)
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	if cfg.Driver.AutoConnect {
		if err := ctrl.Execute(ctx, master.ConnectCommand{}); err != nil {
			// 连接失败保持 WaitInit，可通过 API 重试
			log.Warn("auto connect failed", zap.Error(err))
		}
	}

	// ========== 阶段5: 等待关闭 ==========
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, gracefully shutting down...")
	case runErr = <-httpErr:
		if runErr != nil {
			log.Error("http server error", zap.Error(runErr))
		}
	}
	ready.Store(false)

	shutdown(log, hub, httpSrv, ctrl)
	log.Info("shutdown complete")
	return runErr
}
