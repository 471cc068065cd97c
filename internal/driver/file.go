package driver

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// NewFileDriver 文件/FIFO 驱动，参数 port_rx（读）与 port_tx（写）
func NewFileDriver(log *zap.Logger, opts ...Option) *Stream {
	return NewStream("file", openFiles, log, opts...)
}

// filePair 读写分离的一对文件，对外表现为单个通道
type filePair struct {
	rx *os.File
	tx *os.File
}

func (f *filePair) Read(b []byte) (int, error)  { return f.rx.Read(b) }
func (f *filePair) Write(b []byte) (int, error) { return f.tx.Write(b) }

func (f *filePair) Close() error {
	return errors.Join(f.rx.Close(), f.tx.Close())
}

func openFiles(p Params) (io.ReadWriteCloser, error) {
	rxPath, txPath := p.Get(ParamPortRx), p.Get(ParamPortTx)
	if rxPath == "" || txPath == "" {
		return nil, fmt.Errorf("%s and %s are required", ParamPortRx, ParamPortTx)
	}

	rx, err := os.OpenFile(rxPath, rxFlags(rxPath), 0)
	if err != nil {
		return nil, err
	}
	tx, err := os.OpenFile(txPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		_ = rx.Close()
		return nil, err
	}
	return &filePair{rx: rx, tx: tx}, nil
}

// rxFlags FIFO 以读写方式打开：open 不阻塞等待对端，且对端关闭时不会读到 EOF
func rxFlags(path string) int {
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeNamedPipe != 0 {
		return os.O_RDWR
	}
	return os.O_RDONLY
}
