// Package mabmgb MAB/MGB 串口协议：帧编解码（字节填充 + CRC-16）与驱动之上的协议层
//
// 帧格式：
//
//	STX(1) | addr+0x20(1) | len+8+0x20(1) | stuffed(cmd‖payload)(N) | crc(4) | ETX(1)
//
// len 为填充后的长度；crc 覆盖 STX 至填充区末尾，拆成 4 个半字节（高位在前）各加 0x20。
package mabmgb

import (
	"bytes"
	"fmt"
)

const (
	STX byte = 0x02
	ETX byte = 0x03
	ESC byte = 0x1B

	// 填充编码：ESC->ESC '0'，STX->ESC '2'，ETX->ESC '3'
	asciiZero  byte = 0x30
	asciiTwo   byte = 0x32
	asciiThree byte = 0x33

	addrOffset   = 0x20
	nibbleOffset = 0x20
	lenOverhead  = 8

	// MaxExtPayload cmd‖payload 最大长度：256 - 20(帧头/CRC 预留) - 8(协议开销)
	MaxExtPayload = 256 - 20 - 8

	// MinFrameLen STX+addr+len+crc(4)+ETX
	MinFrameLen = 8
)

// 已知设备地址
const (
	MABAddr uint8 = 200
	MGBAddr uint8 = 201
)

// Packet 应用层数据报
type Packet struct {
	Addr    uint8
	CmdCode uint8
	Payload []byte
}

// NewPacket 构造数据报（复制 payload，构造后不再共享底层数组）
func NewPacket(addr, cmdCode uint8, payload []byte) Packet {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Packet{Addr: addr, CmdCode: cmdCode, Payload: p}
}

// Equal 判断两个数据报内容是否一致
func (p Packet) Equal(o Packet) bool {
	return p.Addr == o.Addr && p.CmdCode == o.CmdCode && bytes.Equal(p.Payload, o.Payload)
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet addr:%d cmd_code:0x%02X payload:% X", p.Addr, p.CmdCode, p.Payload)
}
