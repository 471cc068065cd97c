package master

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/taoyao-code/rs485-master/internal/driver"
	"github.com/taoyao-code/rs485-master/internal/protocol/mabmgb"
)

// 命令名（外部桥接按名称分发）
const (
	CmdConnect    = "connect"
	CmdDisconnect = "disconnect"
	CmdSend       = "send_on_serial"
	CmdSendPacket = "send_packet"
)

// Command 封闭的命令集合
type Command interface {
	Name() string
	command()
}

// ConnectCommand 打开通道
type ConnectCommand struct {
	Params driver.Params
}

// DisconnectCommand 关闭通道
type DisconnectCommand struct{}

// SendCommand 原样写入串口
type SendCommand struct {
	Text []byte
}

// SendPacketCommand 编码后写入串口
type SendPacketCommand struct {
	Packet mabmgb.Packet
}

func (ConnectCommand) Name() string    { return CmdConnect }
func (DisconnectCommand) Name() string { return CmdDisconnect }
func (SendCommand) Name() string       { return CmdSend }
func (SendPacketCommand) Name() string { return CmdSendPacket }

func (ConnectCommand) command()    {}
func (DisconnectCommand) command() {}
func (SendCommand) command()       {}
func (SendPacketCommand) command() {}

// Execute 执行命令；connect 等待后台打开结果，disconnect 只投递信号
func (a *Actor) Execute(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if a.onCommand != nil {
			a.onCommand(cmd.Name(), err)
		}
	}()
	switch c := cmd.(type) {
	case ConnectCommand:
		return a.ConnectAndWait(ctx, c.Params)
	case DisconnectCommand:
		return a.Disconnect()
	case SendCommand:
		return a.SendOnSerial(c.Text)
	case SendPacketCommand:
		return a.SendPacket(c.Packet)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidCommand, cmd)
	}
}

// ParseCommand 把名称加扁平参数解析为类型化命令；未知名称或缺少参数返回 ErrInvalidCommand。
//
//	connect:        任意驱动参数（port、port_rx、port_tx、baudrate ...）
//	disconnect:     无
//	send_on_serial: text
//	send_packet:    addr（数字或设备名）、cmd_code、payload（十六进制，可为空）
func ParseCommand(name string, args map[string]string, book *mabmgb.AddressBook) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CmdConnect:
		params := make(driver.Params, len(args))
		for k, v := range args {
			params[k] = v
		}
		return ConnectCommand{Params: params}, nil

	case CmdDisconnect:
		return DisconnectCommand{}, nil

	case CmdSend:
		text, ok := args["text"]
		if !ok {
			return nil, fmt.Errorf("%w: %s requires text", ErrInvalidCommand, CmdSend)
		}
		return SendCommand{Text: []byte(text)}, nil

	case CmdSendPacket:
		return parseSendPacket(args, book)

	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, name)
	}
}

func parseSendPacket(args map[string]string, book *mabmgb.AddressBook) (Command, error) {
	rawAddr, ok := args["addr"]
	if !ok {
		return nil, fmt.Errorf("%w: %s requires addr", ErrInvalidCommand, CmdSendPacket)
	}
	if book == nil {
		book = mabmgb.DefaultAddressBook()
	}
	addr, err := book.Resolve(rawAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	rawCmd, ok := args["cmd_code"]
	if !ok {
		return nil, fmt.Errorf("%w: %s requires cmd_code", ErrInvalidCommand, CmdSendPacket)
	}
	cmdCode, err := strconv.ParseUint(strings.TrimSpace(rawCmd), 0, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: cmd_code %q", ErrInvalidCommand, rawCmd)
	}

	payload, err := hex.DecodeString(strings.ReplaceAll(args["payload"], " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrInvalidCommand, err)
	}
	return SendPacketCommand{Packet: mabmgb.NewPacket(addr, uint8(cmdCode), payload)}, nil
}
