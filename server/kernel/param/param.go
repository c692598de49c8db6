package param

// 内核参数
const (
	NCPU    = 8    // 最大CPU数
	PGSIZE  = 4096 // 物理页大小
	BSIZE   = 1024 // 磁盘块大小
	NBUCKET = 13   // 缓冲区哈希桶数
	NB      = 5    // 每个桶的缓冲区数

	// KERNBASE 物理内存起始地址
	KERNBASE = 0x80000000
	// PHYSSIZE 默认管理的物理内存大小
	PHYSSIZE = 16 * 1024 * 1024
)

// 调试填充字节
const (
	JunkByte   byte = 5 // kalloc 分配后填充
	PoisonByte byte = 1 // kfree 释放后填充
)

// PGROUNDUP 向上对齐到页边界
func PGROUNDUP(sz, pgsize uint64) uint64 {
	return (sz + pgsize - 1) &^ (pgsize - 1)
}

// PGROUNDDOWN 向下对齐到页边界
func PGROUNDDOWN(a, pgsize uint64) uint64 {
	return a &^ (pgsize - 1)
}
