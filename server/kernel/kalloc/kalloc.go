package kalloc

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/xkernel/logger"
	"github.com/zhukovaskychina/xkernel/server/kernel/latch"
	"github.com/zhukovaskychina/xkernel/server/kernel/param"
	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
)

// Distribution 启动时空闲页在各CPU之间的分布方式
type Distribution int

const (
	// DistBootCore 所有页进入执行 Init 的CPU的空闲链表，其他CPU靠窃取获得
	DistBootCore Distribution = iota
	// DistStriped 按页轮流分给各CPU
	DistStriped
)

func (d Distribution) String() string {
	switch d {
	case DistBootCore:
		return "boot-core"
	case DistStriped:
		return "striped"
	}
	return fmt.Sprintf("Distribution(%d)", int(d))
}

// ParseDistribution 解析配置中的分布方式
func ParseDistribution(s string) (Distribution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "boot-core", "bootcore":
		return DistBootCore, nil
	case "striped", "round-robin":
		return DistStriped, nil
	}
	return DistBootCore, errors.Errorf("kalloc: unknown distribution %q", s)
}

const nilPage = -1

// pool 单个CPU的空闲页链表
type pool struct {
	lock  *latch.SpinLock
	head  int32
	nfree atomic.Int64
}

// Kmem 每CPU物理页分配器
//
// 空闲链表以页号为下标串在 next 数组里，一个空闲页只属于一个 pool，
// 它的 next 槽由该 pool 的锁保护。
type Kmem struct {
	mem    *Memory
	origin PA // 第一个完整页的地址，页号从这里算起
	pgsize uint64
	dist   Distribution
	pools  []*pool
	next   []int32

	start PA
	end   PA

	stats Stats
	log   *logrus.Entry
}

// Option Kmem 选项
type Option func(*Kmem)

// WithPageSize 设置页大小，必须是2的幂
func WithPageSize(n uint64) Option {
	return func(k *Kmem) { k.pgsize = n }
}

// WithDistribution 设置启动时的页分布方式
func WithDistribution(d Distribution) Option {
	return func(k *Kmem) { k.dist = d }
}

// New 创建分配器，每个CPU一个空闲链表
func New(mem *Memory, ncpu int, opts ...Option) *Kmem {
	k := &Kmem{
		mem:    mem,
		pgsize: param.PGSIZE,
		log:    logger.Subsystem("kalloc"),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.pgsize == 0 || k.pgsize&(k.pgsize-1) != 0 {
		panic(fmt.Sprintf("kalloc: page size %d is not a power of two", k.pgsize))
	}
	if ncpu < 1 {
		panic(fmt.Sprintf("kalloc: invalid ncpu %d", ncpu))
	}

	k.pools = make([]*pool, ncpu)
	for i := range k.pools {
		k.pools[i] = &pool{
			lock: latch.NewSpinLock(fmt.Sprintf("kmem%d", i)),
			head: nilPage,
		}
	}
	k.origin = PA(param.PGROUNDUP(uint64(mem.Base()), k.pgsize))
	var npages uint64
	if k.origin < mem.End() {
		npages = uint64(mem.End()-k.origin) / k.pgsize
	}
	k.next = make([]int32, npages)
	for i := range k.next {
		k.next[i] = nilPage
	}
	return k
}

func (k *Kmem) PageSize() uint64 {
	return k.pgsize
}

func (k *Kmem) NCPU() int {
	return len(k.pools)
}

// Range 受管理的物理地址范围，两端都按页对齐
func (k *Kmem) Range() (PA, PA) {
	return k.start, k.end
}

// Init 把 [start, end) 中所有完整的页交给分配器，在CPU c 上执行
func (k *Kmem) Init(c *proc.CPU, start, end PA) {
	if start < k.mem.Base() || end > k.mem.End() || start >= end {
		panic(fmt.Sprintf("kinit: [%#x, %#x) outside physical memory", uint64(start), uint64(end)))
	}
	k.start = PA(param.PGROUNDUP(uint64(start), k.pgsize))
	k.end = PA(param.PGROUNDDOWN(uint64(end), k.pgsize))

	n := 0
	for pa := k.start; pa < k.end; pa += PA(k.pgsize) {
		id := c.ID()
		if k.dist == DistStriped {
			id = (c.ID() + n) % len(k.pools)
		}
		k.fill(pa, param.PoisonByte)
		k.push(c, id, pa)
		n++
	}
	k.log.WithFields(logrus.Fields{
		"cpu":          c.ID(),
		"pages":        n,
		"distribution": k.dist,
	}).Infof("kinit [%#x, %#x)", uint64(start), uint64(end))
}

// Alloc 分配一页。本CPU链表为空时按固定顺序从其他CPU窃取，成功一次即停止。
// 所有链表都为空时返回 false。
func (k *Kmem) Alloc(c *proc.CPU) (PA, bool) {
	id := k.cpuID(c)

	c.PushOff()
	pa, ok := k.pop(c, id)
	if !ok {
		for peer := range k.pools {
			if peer == id {
				continue
			}
			if pa, ok = k.pop(c, peer); ok {
				atomic.AddInt64(&k.stats.Steals, 1)
				if logger.IsDebugEnabled() {
					k.log.Debugf("cpu %d stole page %#x from cpu %d", id, uint64(pa), peer)
				}
				break
			}
		}
	}
	c.PopOff()

	if !ok {
		atomic.AddInt64(&k.stats.Failures, 1)
		return 0, false
	}
	atomic.AddInt64(&k.stats.Allocs, 1)
	k.fill(pa, param.JunkByte)
	return pa, true
}

// Free 释放一页到调用者所在CPU的链表。地址未对齐或不在管理范围内属于调用方错误，直接 panic。
func (k *Kmem) Free(c *proc.CPU, pa PA) {
	if uint64(pa)%k.pgsize != 0 || pa < k.start || pa >= k.end {
		panic(fmt.Sprintf("kfree: bad page %#x", uint64(pa)))
	}
	id := k.cpuID(c)

	k.fill(pa, param.PoisonByte)

	c.PushOff()
	k.push(c, id, pa)
	c.PopOff()
	atomic.AddInt64(&k.stats.Frees, 1)
}

// Page 返回页的内容
func (k *Kmem) Page(pa PA) []byte {
	return k.mem.Bytes(pa, k.pgsize)
}

// FreeCount 所有CPU空闲页总数
func (k *Kmem) FreeCount() int {
	n := 0
	for _, p := range k.pools {
		n += int(p.nfree.Load())
	}
	return n
}

// PoolSizes 每个CPU的空闲页数
func (k *Kmem) PoolSizes() []int {
	sizes := make([]int, len(k.pools))
	for i, p := range k.pools {
		sizes[i] = int(p.nfree.Load())
	}
	return sizes
}

// Stats 返回统计快照
func (k *Kmem) Stats() Stats {
	return k.stats.snapshot()
}

func (k *Kmem) cpuID(c *proc.CPU) int {
	id := c.ID()
	if id >= len(k.pools) {
		panic(fmt.Sprintf("kalloc: cpu %d has no pool", id))
	}
	return id
}

func (k *Kmem) pop(c *proc.CPU, id int) (PA, bool) {
	p := k.pools[id]
	p.lock.Acquire(c)
	idx := p.head
	if idx == nilPage {
		p.lock.Release(c)
		return 0, false
	}
	p.head = k.next[idx]
	k.next[idx] = nilPage
	p.nfree.Add(-1)
	p.lock.Release(c)
	return k.origin + PA(uint64(idx)*k.pgsize), true
}

func (k *Kmem) push(c *proc.CPU, id int, pa PA) {
	idx := int32(uint64(pa-k.origin) / k.pgsize)
	p := k.pools[id]
	p.lock.Acquire(c)
	k.next[idx] = p.head
	p.head = idx
	p.nfree.Add(1)
	p.lock.Release(c)
}

func (k *Kmem) fill(pa PA, b byte) {
	page := k.mem.Bytes(pa, k.pgsize)
	for i := range page {
		page[i] = b
	}
}
