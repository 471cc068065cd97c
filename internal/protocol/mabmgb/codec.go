package mabmgb

import "fmt"

// Encode 将数据报编码为完整帧，可直接写入串口
func Encode(p Packet) ([]byte, error) {
	ext := make([]byte, 0, 1+len(p.Payload))
	ext = append(ext, p.CmdCode)
	ext = append(ext, p.Payload...)
	if len(ext) > MaxExtPayload {
		return nil, fmt.Errorf("%w: length %d > %d", ErrPayloadTooLarge, len(ext), MaxExtPayload)
	}

	stuffed := Stuff(ext)
	frame := make([]byte, 0, 3+len(stuffed)+5)
	// 地址与长度字段按单字节（模 256）传输
	frame = append(frame, STX, p.Addr+addrOffset, byte(len(stuffed)+lenOverhead+addrOffset))
	frame = append(frame, stuffed...)

	nib := crcNibbles(CRC16(frame, 0))
	frame = append(frame, nib[:]...)
	frame = append(frame, ETX)
	return frame, nil
}

// Decode 严格校验并解析一帧（起止符、CRC、长度、填充）
func Decode(frame []byte) (Packet, error) {
	if len(frame) < MinFrameLen || frame[0] != STX || frame[len(frame)-1] != ETX {
		return Packet{}, fmt.Errorf("%w: % X", ErrIllegalPacket, frame)
	}

	addr := frame[1] - addrOffset
	declared := frame[2] - lenOverhead - addrOffset
	stuffed := frame[3 : len(frame)-5]

	// CRC 先于长度校验：CRC 覆盖长度字段，任何单比特损坏都归为 CRC 错误
	want := int(CRC16(frame[:len(frame)-5], 0))
	got := nibblesCRC(frame[len(frame)-5 : len(frame)-1])
	if got != want {
		return Packet{}, fmt.Errorf("%w: 0x%04X!=0x%04X % X", ErrCrcMismatch, got&0xFFFF, want, frame[len(frame)-5:len(frame)-1])
	}

	// 比较的是填充后的长度，与编码端写入的长度字段一致
	if byte(len(stuffed)) != declared {
		return Packet{}, fmt.Errorf("%w: %d/%d % X", ErrLengthMismatch, len(stuffed), declared, frame)
	}

	ext, err := Unstuff(stuffed)
	if err != nil {
		return Packet{}, err
	}
	if len(ext) == 0 {
		return Packet{}, fmt.Errorf("%w: missing cmd code", ErrIllegalPacket)
	}

	return NewPacket(addr, ext[0], ext[1:]), nil
}
