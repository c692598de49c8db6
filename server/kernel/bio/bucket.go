package bio

import (
	"fmt"

	"github.com/zhukovaskychina/xkernel/server/kernel/latch"
	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
)

// bucket 固定数量的缓冲区槽位，所有槽位的元数据由同一把自旋锁保护
type bucket struct {
	id   int
	lock *latch.SpinLock
	bufs []*Buf
}

func newBucket(id, nbuf int, arena []byte, blockSize int) *bucket {
	bk := &bucket{
		id:   id,
		lock: latch.NewSpinLock(fmt.Sprintf("bcache.bucket%d", id)),
		bufs: make([]*Buf, nbuf),
	}
	for i := range bk.bufs {
		off := i * blockSize
		bk.bufs[i] = &Buf{
			dev:  NoDevice,
			data: arena[off : off+blockSize : off+blockSize],
			lock: latch.NewSleepLock(fmt.Sprintf("buffer%d.%d", id, i)),
			bkt:  bk,
		}
	}
	return bk
}

// lookup 查找 (dev, blockno)，调用方持有桶锁
func (bk *bucket) lookup(dev, blockno uint32) *Buf {
	for _, b := range bk.bufs {
		if b.dev == dev && b.blockno == blockno {
			return b
		}
	}
	return nil
}

// victim 选出 refcnt 为0且 lastuse 最小的槽位，相同时取扫描到的第一个。调用方持有桶锁。
func (bk *bucket) victim() *Buf {
	var v *Buf
	for _, b := range bk.bufs {
		if b.refcnt != 0 {
			continue
		}
		if v == nil || b.lastuse < v.lastuse {
			v = b
		}
	}
	return v
}

// SlotInfo 槽位元数据快照
type SlotInfo struct {
	Bucket  int
	Slot    int
	Dev     uint32
	BlockNo uint32
	Refcnt  int
	LastUse uint64
}

func (bk *bucket) snapshot(c *proc.CPU) []SlotInfo {
	bk.lock.Acquire(c)
	defer bk.lock.Release(c)
	out := make([]SlotInfo, len(bk.bufs))
	for i, b := range bk.bufs {
		out[i] = SlotInfo{
			Bucket:  bk.id,
			Slot:    i,
			Dev:     b.dev,
			BlockNo: b.blockno,
			Refcnt:  b.refcnt,
			LastUse: b.lastuse,
		}
	}
	return out
}
