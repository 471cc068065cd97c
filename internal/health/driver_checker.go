package health

import (
	"context"
	"time"

	"github.com/taoyao-code/rs485-master/internal/master"
)

// StateSource 提供主控当前状态
type StateSource interface {
	State() master.State
}

// DriverChecker 串口连接检查：已连接为健康，等待连接或已断开为降级
type DriverChecker struct {
	src StateSource
}

// NewDriverChecker 创建串口连接检查器
func NewDriverChecker(src StateSource) *DriverChecker {
	return &DriverChecker{src: src}
}

// Name 返回检查器名称
func (c *DriverChecker) Name() string {
	return "serial"
}

// Check 执行健康检查
func (c *DriverChecker) Check(_ context.Context) CheckResult {
	start := time.Now()
	st := c.src.State()

	status := StatusDegraded
	message := "serial channel not open"
	if st == master.StateConnected {
		status = StatusHealthy
		message = "ok"
	}
	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]any{"state": st.String()},
		Latency: time.Since(start),
	}
}
