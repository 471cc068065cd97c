package mabmgb

import "fmt"

// Stuff 字节填充：STX/ETX -> ESC, b+0x30；ESC -> ESC, 0x30。输出最多为输入的 2 倍
func Stuff(b []byte) []byte {
	out := make([]byte, 0, len(b)+len(b)/4)
	for _, c := range b {
		switch c {
		case STX, ETX:
			out = append(out, ESC, c+asciiZero)
		case ESC:
			out = append(out, ESC, asciiZero)
		default:
			out = append(out, c)
		}
	}
	return out
}

// Unstuff 去除填充；ESC 后只允许 0x30/0x32/0x33，末尾孤立 ESC 同样非法
func Unstuff(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != ESC {
			out = append(out, c)
			continue
		}
		if i+1 >= len(b) {
			return nil, fmt.Errorf("%w: trailing ESC at %d", ErrFraming, i)
		}
		i++
		switch b[i] {
		case asciiTwo, asciiThree:
			out = append(out, b[i]-asciiZero)
		case asciiZero:
			out = append(out, ESC)
		default:
			return nil, fmt.Errorf("%w: ESC 0x%02X at %d", ErrFraming, b[i], i-1)
		}
	}
	return out, nil
}
