package mabmgb

import "errors"

var (
	ErrFraming         = errors.New("mabmgb: illegal escape sequence")
	ErrIllegalPacket   = errors.New("mabmgb: illegal packet")
	ErrLengthMismatch  = errors.New("mabmgb: wrong packet length")
	ErrCrcMismatch     = errors.New("mabmgb: wrong crc")
	ErrPayloadTooLarge = errors.New("mabmgb: payload out of range")
)

// ErrorReason 将编解码错误映射为指标标签
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrFraming):
		return "framing"
	case errors.Is(err, ErrIllegalPacket):
		return "illegal_packet"
	case errors.Is(err, ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, ErrCrcMismatch):
		return "crc_mismatch"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	default:
		return "other"
	}
}
