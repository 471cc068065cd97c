package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/api/middleware"
)

// RegisterRoutes 注册主控 API 路由
func RegisterRoutes(
	r *gin.Engine,
	h *Handler,
	authCfg middleware.AuthConfig,
	rlCfg middleware.RateLimitConfig,
	logger *zap.Logger,
) {
	if r == nil || h == nil {
		return
	}

	api := r.Group("/api")
	api.Use(middleware.RequestTracing(), middleware.CORS())
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	api.GET("/status", h.Status)
	api.GET("/feedback", h.StreamFeedback)
	// 只对命令限流，反馈流是长连接
	api.POST("/commands/:name", middleware.RateLimit(rlCfg, logger), h.ExecuteCommand)

	logger.Info("api routes registered", zap.Int("endpoints", 3))
}
