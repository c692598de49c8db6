package disk

import (
	"github.com/pkg/errors"
)

// Device 块设备，同步读写整块
//
// 同一块不会被并发访问（缓冲区睡眠锁保证），不同块之间可以并发。
type Device interface {
	ReadBlock(blockno uint32, dst []byte) error
	WriteBlock(blockno uint32, src []byte) error
	NBlocks() uint32
	BlockSize() int
	Close() error
}

func checkIO(d Device, blockno uint32, buf []byte) error {
	if blockno >= d.NBlocks() {
		return errors.Wrapf(ErrOutOfRange, "block %d of %d", blockno, d.NBlocks())
	}
	if len(buf) != d.BlockSize() {
		return errors.Wrapf(ErrBlockSize, "got %d bytes, want %d", len(buf), d.BlockSize())
	}
	return nil
}
