package disk

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// MemDevice 内存块设备
type MemDevice struct {
	mu     sync.RWMutex
	blocks [][]byte
	bsize  int

	failReads  atomic.Bool
	failWrites atomic.Bool
	reads      atomic.Int64
	writes     atomic.Int64
}

// NewMemDevice 创建 nblocks 个全零块
func NewMemDevice(nblocks uint32, blockSize int) *MemDevice {
	d := &MemDevice{
		blocks: make([][]byte, nblocks),
		bsize:  blockSize,
	}
	return d
}

func (d *MemDevice) ReadBlock(blockno uint32, dst []byte) error {
	if err := checkIO(d, blockno, dst); err != nil {
		return err
	}
	if d.failReads.Load() {
		return errors.Wrapf(ErrInjected, "read block %d", blockno)
	}
	d.reads.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if b := d.blocks[blockno]; b != nil {
		copy(dst, b)
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}
	return nil
}

func (d *MemDevice) WriteBlock(blockno uint32, src []byte) error {
	if err := checkIO(d, blockno, src); err != nil {
		return err
	}
	if d.failWrites.Load() {
		return errors.Wrapf(ErrInjected, "write block %d", blockno)
	}
	d.writes.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.blocks[blockno]
	if b == nil {
		b = make([]byte, d.bsize)
		d.blocks[blockno] = b
	}
	copy(b, src)
	return nil
}

func (d *MemDevice) NBlocks() uint32 {
	return uint32(len(d.blocks))
}

func (d *MemDevice) BlockSize() int {
	return d.bsize
}

func (d *MemDevice) Close() error {
	return nil
}

// FailReads 打开或关闭读故障注入
func (d *MemDevice) FailReads(on bool) {
	d.failReads.Store(on)
}

// FailWrites 打开或关闭写故障注入
func (d *MemDevice) FailWrites(on bool) {
	d.failWrites.Store(on)
}

// Reads 成功的读次数
func (d *MemDevice) Reads() int64 {
	return d.reads.Load()
}

// Writes 成功的写次数
func (d *MemDevice) Writes() int64 {
	return d.writes.Load()
}
