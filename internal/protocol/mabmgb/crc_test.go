package mabmgb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0xBB3D), CRC16([]byte("123456789"), 0))
	assert.Equal(t, uint16(0), CRC16(nil, 0))

	// 分段计算与一次计算结果一致
	data := []byte{0x02, 0xE8, 0x29, 0x64}
	assert.Equal(t, CRC16(data, 0), CRC16(data[2:], CRC16(data[:2], 0)))
}

func TestCRCNibbles(t *testing.T) {
	nib := crcNibbles(0xF79F)
	assert.Equal(t, [4]byte{0x2F, 0x27, 0x29, 0x2F}, nib)
	assert.Equal(t, 0xF79F, nibblesCRC(nib[:]))

	// 越界半字节不会截断成合法值
	assert.NotEqual(t, 0x0000, nibblesCRC([]byte{0x20, 0x20, 0x20, 0x30}))
	assert.Equal(t, -0x20, nibblesCRC([]byte{0x20, 0x20, 0x20, 0x00}))
}
