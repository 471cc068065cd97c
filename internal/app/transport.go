package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/rs485-master/internal/config"
	"github.com/taoyao-code/rs485-master/internal/driver"
	"github.com/taoyao-code/rs485-master/internal/metrics"
)

// NewTransportFactory 按配置的驱动类型创建驱动，并接入字节级指标
func NewTransportFactory(cfg cfgpkg.DriverConfig, appm *metrics.AppMetrics, log *zap.Logger) TransportFactory {
	opts := []driver.Option{
		driver.WithEOFBackoff(cfg.EOFBackoff),
		driver.WithCloseGrace(cfg.CloseGrace),
	}
	if appm != nil {
		opts = append(opts,
			driver.WithBytesHooks(
				func(n int) { appm.SerialBytesReceived.Add(float64(n)) },
				func(n int) { appm.SerialBytesSent.Add(float64(n)) },
			),
			driver.WithDroppedHook(func() { appm.SerialWritesDropped.Inc() }),
		)
	}
	return func() (driver.Transport, error) {
		s, err := driver.New(cfg.Kind, log, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
