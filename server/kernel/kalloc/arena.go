package kalloc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xkernel/logger"
)

// PA 物理地址
type PA uint64

// Memory 一段连续的物理内存 [base, base+size)
type Memory struct {
	base   PA
	data   []byte
	mapped bool
}

// NewMemory 创建物理内存区域。useMmap 为 true 时使用匿名映射，失败则退回到堆内存。
func NewMemory(base PA, size uint64, useMmap bool) (*Memory, error) {
	if size == 0 {
		return nil, errors.New("kalloc: empty physical memory")
	}
	m := &Memory{base: base}
	if useMmap {
		data, err := mmapArena(int(size))
		if err == nil {
			m.data = data
			m.mapped = true
			return m, nil
		}
		logger.Subsystem("kalloc").Warnf("mmap %d bytes failed, falling back to heap: %v", size, err)
	}
	m.data = make([]byte, size)
	return m, nil
}

func (m *Memory) Base() PA {
	return m.base
}

// End 第一个不属于该区域的地址
func (m *Memory) End() PA {
	return m.base + PA(len(m.data))
}

func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// Mapped 是否由 mmap 提供
func (m *Memory) Mapped() bool {
	return m.mapped
}

// Bytes 返回 [pa, pa+n) 的字节视图
func (m *Memory) Bytes(pa PA, n uint64) []byte {
	if pa < m.base || pa+PA(n) > m.End() {
		panic(fmt.Sprintf("kalloc: %#x+%d outside physical memory", uint64(pa), n))
	}
	off := uint64(pa - m.base)
	return m.data[off : off+n : off+n]
}

// Close 释放映射
func (m *Memory) Close() error {
	if m.data == nil {
		return nil
	}
	var err error
	if m.mapped {
		err = munmapArena(m.data)
	}
	m.data = nil
	return errors.Wrap(err, "kalloc: unmap physical memory")
}
