package bio

import (
	"fmt"

	"github.com/zhukovaskychina/xkernel/server/kernel/latch"
)

// NoDevice 尚未使用过的槽位的设备号，不会与任何查找匹配
const NoDevice = ^uint32(0)

// Buf 一个磁盘块在内存中的副本
//
// dev、blockno、refcnt、lastuse 由所在桶的自旋锁保护；
// valid 和 data 由 lock（睡眠锁）的持有者独占。
type Buf struct {
	dev     uint32
	blockno uint32
	refcnt  int
	lastuse uint64

	valid bool
	data  []byte
	lock  *latch.SleepLock
	bkt   *bucket
}

// Dev 设备号。只应在持有缓冲区期间调用。
func (b *Buf) Dev() uint32 {
	return b.dev
}

// BlockNo 块号。只应在持有缓冲区期间调用。
func (b *Buf) BlockNo() uint32 {
	return b.blockno
}

// Data 块内容，持有睡眠锁期间可读写
func (b *Buf) Data() []byte {
	return b.data
}

// Valid 内容是否已从磁盘加载
func (b *Buf) Valid() bool {
	return b.valid
}

func (b *Buf) String() string {
	return fmt.Sprintf("buf(dev=%d, block=%d)", b.dev, b.blockno)
}
