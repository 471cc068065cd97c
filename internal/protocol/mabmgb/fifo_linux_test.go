//go:build linux

package mabmgb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/taoyao-code/rs485-master/internal/driver"
)

// 文件驱动经一对 FIFO 背靠背，收发含转义字节的数据报
func TestProtocol_EndToEndFIFO(t *testing.T) {
	dir := t.TempDir()
	ab := filepath.Join(dir, "mab_to_mgb")
	ba := filepath.Join(dir, "mgb_to_mab")
	require.NoError(t, unix.Mkfifo(ab, 0o600))
	require.NoError(t, unix.Mkfifo(ba, 0o600))

	da := driver.NewFileDriver(zap.NewNop())
	db := driver.NewFileDriver(zap.NewNop())
	pa := NewProtocol(da, zap.NewNop())
	pb := NewProtocol(db, zap.NewNop())
	sink := &packetSink{}
	pb.Subscribe(sink.handle)

	require.NoError(t, da.Connect(context.Background(), driver.Params{driver.ParamPortRx: ba, driver.ParamPortTx: ab}))
	require.NoError(t, db.Connect(context.Background(), driver.Params{driver.ParamPortRx: ab, driver.ParamPortTx: ba}))
	t.Cleanup(func() {
		_ = da.Disconnect()
		_ = db.Disconnect()
	})

	want := []Packet{
		NewPacket(MGBAddr, 0x07, []byte{STX, ETX, ESC}),
		NewPacket(MABAddr, 0x44, nil),
	}
	for _, p := range want {
		require.NoError(t, pa.SendPacket(p))
	}

	require.Eventually(t, func() bool { return len(sink.Packets()) == len(want) }, 3*time.Second, 10*time.Millisecond)
	for i, p := range sink.Packets() {
		assert.True(t, want[i].Equal(p), "%s != %s", want[i], p)
	}
}
