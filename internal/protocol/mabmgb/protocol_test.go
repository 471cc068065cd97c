package mabmgb

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/driver"
	"github.com/taoyao-code/rs485-master/internal/eventbus"
)

// fakeTransport 同步驱动替身：inject 模拟驱动上报
type fakeTransport struct {
	bus     *eventbus.Bus
	state   driver.State
	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport(st driver.State) *fakeTransport {
	f := &fakeTransport{state: st}
	f.bus = eventbus.New(f)
	return f
}

func (f *fakeTransport) Subscribe(h eventbus.Handler) { f.bus.Subscribe(h) }
func (f *fakeTransport) State() driver.State          { return f.state }
func (f *fakeTransport) Write(b []byte) {
	f.mu.Lock()
	f.written = append(f.written, b)
	f.mu.Unlock()
}

func (f *fakeTransport) setState(st driver.State) error {
	f.state = st
	return f.bus.Fire(driver.LabelStateChanged, map[string]any{driver.AttachState: st})
}

func (f *fakeTransport) inject(frame []byte) error {
	return f.bus.Fire(driver.LabelPacketRecv, map[string]any{driver.AttachText: frame})
}

// packetSink 收集协议层事件
type packetSink struct {
	mu      sync.Mutex
	packets []Packet
	states  []State
	errs    []error
}

func (s *packetSink) handle(ev eventbus.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Label {
	case LabelPacketRecv:
		p, _ := PacketOf(ev)
		s.packets = append(s.packets, p)
	case LabelStateChanged:
		st, _ := StateOf(ev)
		s.states = append(s.states, st)
	case LabelError:
		v, _ := ev.Get(AttachError)
		err, _ := v.(error)
		s.errs = append(s.errs, err)
	}
	return nil
}

func (s *packetSink) Packets() []Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Packet(nil), s.packets...)
}

func TestProtocol_InitialState(t *testing.T) {
	p := NewProtocol(newFakeTransport(driver.StateDisconnected), nil)
	assert.Equal(t, StateWaitingForConnection, p.State())

	p = NewProtocol(newFakeTransport(driver.StateConnected), zap.NewNop())
	assert.Equal(t, StateReady, p.State())
}

func TestProtocol_FollowsTransportState(t *testing.T) {
	ft := newFakeTransport(driver.StateDisconnected)
	p := NewProtocol(ft, zap.NewNop())
	sink := &packetSink{}
	p.Subscribe(sink.handle)

	require.NoError(t, ft.setState(driver.StateConnected))
	assert.Equal(t, StateReady, p.State())
	require.NoError(t, ft.setState(driver.StateDisconnected))
	assert.Equal(t, StateWaitingForConnection, p.State())
	assert.Equal(t, []State{StateReady, StateWaitingForConnection}, sink.states)
}

func TestProtocol_Receive(t *testing.T) {
	ft := newFakeTransport(driver.StateConnected)
	var decodeErrs []error
	p := NewProtocol(ft, zap.NewNop(), WithDecodeHook(func(err error) {
		if err != nil {
			decodeErrs = append(decodeErrs, err)
		}
	}))
	sink := &packetSink{}
	p.Subscribe(sink.handle)

	t.Run("合法帧", func(t *testing.T) {
		require.NoError(t, ft.inject([]byte{0x02, 0xE8, 0x29, 0x64, 0x2F, 0x27, 0x29, 0x2F, 0x03}))
		require.Len(t, sink.Packets(), 1)
		assert.True(t, NewPacket(MABAddr, 0x64, nil).Equal(sink.Packets()[0]))
	})

	t.Run("非法帧被丢弃且不向驱动返回错误", func(t *testing.T) {
		require.NoError(t, ft.inject([]byte{0x02, 0xE8, 0x29, 0x64, 0x2F, 0x27, 0x29, 0x2E, 0x03}))
		require.NoError(t, ft.inject([]byte("garbage\x03")))
		assert.Len(t, sink.Packets(), 1)
		require.Len(t, sink.errs, 2)
		assert.ErrorIs(t, sink.errs[0], ErrCrcMismatch)
		assert.ErrorIs(t, sink.errs[1], ErrIllegalPacket)
		assert.Len(t, decodeErrs, 2)
	})

	t.Run("下游订阅者错误向驱动传播", func(t *testing.T) {
		boom := errors.New("listener failed")
		p.Subscribe(func(eventbus.Event) error { return boom })
		err := ft.inject([]byte{0x02, 0xE8, 0x29, 0x64, 0x2F, 0x27, 0x29, 0x2F, 0x03})
		assert.ErrorIs(t, err, boom)
	})
}

func TestProtocol_SendPacket(t *testing.T) {
	ft := newFakeTransport(driver.StateConnected)
	var sent []Packet
	p := NewProtocol(ft, zap.NewNop(), WithSentHook(func(pkt Packet) { sent = append(sent, pkt) }))

	require.NoError(t, p.SendPacket(NewPacket(MABAddr, 0x44, nil)))
	require.Len(t, ft.written, 1)
	assert.Equal(t, []byte{0x02, 0xE8, 0x29, 0x44, 0x22, 0x2F, 0x29, 0x2E, 0x03}, ft.written[0])
	assert.Len(t, sent, 1)

	err := p.SendPacket(NewPacket(MABAddr, 0x44, make([]byte, MaxExtPayload)))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Len(t, ft.written, 1, "编码失败不写入驱动")
	assert.Len(t, sent, 1)
}

// 两个驱动背靠背，A 侧协议层发送，B 侧协议层恰好收到一个相同的数据报
func TestProtocol_EndToEndBackToBack(t *testing.T) {
	ca, cb := net.Pipe()
	da := driver.NewStream("a", func(driver.Params) (io.ReadWriteCloser, error) { return ca, nil }, zap.NewNop())
	db := driver.NewStream("b", func(driver.Params) (io.ReadWriteCloser, error) { return cb, nil }, zap.NewNop())
	pa := NewProtocol(da, zap.NewNop())
	pb := NewProtocol(db, zap.NewNop())
	sink := &packetSink{}
	pb.Subscribe(sink.handle)

	require.NoError(t, da.Connect(context.Background(), nil))
	require.NoError(t, db.Connect(context.Background(), nil))
	t.Cleanup(func() {
		_ = da.Disconnect()
		_ = db.Disconnect()
	})
	assert.Equal(t, StateReady, pa.State())
	assert.Equal(t, StateReady, pb.State())

	want := NewPacket(0x20, 0x09, []byte{0x10, 0x11, 0x12, 0x20, 0x21, 0x22})
	require.NoError(t, pa.SendPacket(want))

	require.Eventually(t, func() bool { return len(sink.Packets()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	got := sink.Packets()
	require.Len(t, got, 1)
	assert.True(t, want.Equal(got[0]), "%s != %s", want, got[0])
}
