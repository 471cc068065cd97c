// Package driver 通信设备的底层异步驱动：连接/断开生命周期、并发读写循环、按定界符重组帧。
//
// 驱动通过事件总线上报两类事件：
//   - LabelStateChanged：附件 "state"（State）
//   - LabelPacketRecv：附件 "text"（[]byte，含起止定界符的完整帧）
package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/taoyao-code/rs485-master/internal/eventbus"
)

// Delimiter 帧结束定界符（ETX）
const Delimiter byte = 0x03

// MaxFrameLen 累积缓冲上限，超过后丢弃重新同步（合法帧最长不足 500 字节）
const MaxFrameLen = 1024

const (
	LabelStateChanged eventbus.Label = "driver.state_changed"
	LabelPacketRecv   eventbus.Label = "driver.packet_recv"

	AttachState = "state"
	AttachText  = "text"
)

var (
	ErrChannel          = errors.New("driver: channel error")
	ErrAlreadyConnected = errors.New("driver: already connected")
	ErrNotConnected     = errors.New("driver: not connected")
	ErrUnknownDriver    = errors.New("driver: unknown driver kind")
)

// State 驱动状态
type State int32

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Transport 物理/虚拟通道的抽象
type Transport interface {
	// Connect 打开通道；成功后进入 Connected 并触发 LabelStateChanged，随后启动读写循环
	Connect(ctx context.Context, params Params) error
	// Disconnect 通知读写循环退出、释放通道并触发 LabelStateChanged
	Disconnect() error
	// Write 非阻塞入队，保持 FIFO，不确认送达
	Write(b []byte)
	State() State
	Subscribe(h eventbus.Handler)
}

// Params 连接参数（各驱动自定义键）
type Params map[string]string

// 参数键
const (
	ParamPortRx        = "port_rx"
	ParamPortTx        = "port_tx"
	ParamPort          = "port"
	ParamBaudRate      = "baudrate"
	ParamReadTimeoutMs = "read_timeout_ms"
)

// Get 读取字符串参数
func (p Params) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// Int 读取整数参数，缺省返回 def
func (p Params) Int(key string, def int) (int, error) {
	v := p.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return n, nil
}

// Merge 返回合并后的新参数，override 中的非空值覆盖 p
func (p Params) Merge(override Params) Params {
	out := make(Params, len(p)+len(override))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range override {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// StateOf 从 LabelStateChanged 事件中取出状态
func StateOf(ev eventbus.Event) (State, bool) {
	v, ok := ev.Get(AttachState)
	if !ok {
		return 0, false
	}
	s, ok := v.(State)
	return s, ok
}

// TextOf 从 LabelPacketRecv 事件中取出原始帧
func TextOf(ev eventbus.Event) ([]byte, bool) {
	v, ok := ev.Get(AttachText)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}
