package driver

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// 驱动类型
const (
	KindFile   = "file"
	KindSerial = "serial"
)

// New 按类型创建驱动
func New(kind string, log *zap.Logger, opts ...Option) (*Stream, error) {
	switch strings.ToLower(kind) {
	case KindFile:
		return NewFileDriver(log, opts...), nil
	case KindSerial:
		return NewSerialDriver(log, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, kind)
	}
}
