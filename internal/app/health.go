package app

import (
	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/rs485-master/internal/health"
)

// NewHealthAggregator 创建健康检查聚合器，初始包含串口连接检查
func NewHealthAggregator(src health.StateSource) *health.Aggregator {
	return health.NewAggregator(health.NewDriverChecker(src))
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}
