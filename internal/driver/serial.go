package driver

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

const (
	DefaultBaudRate      = 9600
	DefaultReadTimeoutMs = 100 // 读超时保证取消后读循环能及时观察到
)

// NewSerialDriver 串口驱动，参数 port、baudrate、read_timeout_ms
func NewSerialDriver(log *zap.Logger, opts ...Option) *Stream {
	return NewStream("serial", openSerial, log, opts...)
}

func openSerial(p Params) (io.ReadWriteCloser, error) {
	name := p.Get(ParamPort)
	if name == "" {
		return nil, fmt.Errorf("%s is required", ParamPort)
	}
	baud, err := p.Int(ParamBaudRate, DefaultBaudRate)
	if err != nil {
		return nil, err
	}
	timeoutMs, err := p.Int(ParamReadTimeoutMs, DefaultReadTimeoutMs)
	if err != nil {
		return nil, err
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: time.Duration(timeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return port, nil
}
