package bio

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/xkernel/logger"
	"github.com/zhukovaskychina/xkernel/server/kernel/clock"
	"github.com/zhukovaskychina/xkernel/server/kernel/param"
	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
	"github.com/zhukovaskychina/xkernel/util"
)

// BlockIO 同步块传输。调用方持有缓冲区的睡眠锁。
type BlockIO interface {
	ReadBlock(dev, blockno uint32, dst []byte) error
	WriteBlock(dev, blockno uint32, src []byte) error
}

// Config 缓存配置
type Config struct {
	NBucket   int // 哈希桶数
	NBuf      int // 每个桶的槽位数
	BlockSize int
}

// DefaultConfig 默认配置，13个桶、每桶5个缓冲区
func DefaultConfig() Config {
	return Config{
		NBucket:   param.NBUCKET,
		NBuf:      param.NB,
		BlockSize: param.BSIZE,
	}
}

// Validate 检查配置
func (c Config) Validate() error {
	if c.NBucket < 1 || c.NBuf < 1 || c.BlockSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "nbucket=%d nbuf=%d block_size=%d", c.NBucket, c.NBuf, c.BlockSize)
	}
	return nil
}

// Capacity 总槽位数
func (c Config) Capacity() int {
	return c.NBucket * c.NBuf
}

// Cache 按块号哈希分桶的缓冲区缓存，每个桶内独立做LRU
//
// 加锁顺序：桶自旋锁只保护元数据，在阻塞获取缓冲区睡眠锁之前释放。
// 一次操作只涉及一个桶，因此桶之间没有顺序要求。
type Cache struct {
	cfg     Config
	buckets []*bucket
	io      BlockIO
	clock   *clock.Clock
	stats   *Stats
	log     *logrus.Entry
}

// NewCache 创建缓存，所有槽位在此一次性分配
func NewCache(cfg Config, io BlockIO, clk *clock.Clock) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{
		cfg:     cfg,
		buckets: make([]*bucket, cfg.NBucket),
		io:      io,
		clock:   clk,
		stats:   newStats(),
		log:     logger.Subsystem("bio"),
	}
	arena := make([]byte, cfg.Capacity()*cfg.BlockSize)
	per := cfg.NBuf * cfg.BlockSize
	for i := range c.buckets {
		c.buckets[i] = newBucket(i, cfg.NBuf, arena[i*per:(i+1)*per], cfg.BlockSize)
	}
	return c, nil
}

func (c *Cache) Config() Config {
	return c.cfg
}

// BucketOf 块号所在的桶
func (c *Cache) BucketOf(blockno uint32) int {
	return int(blockno % uint32(len(c.buckets)))
}

// get 查找或分配 (dev, blockno) 的缓冲区，返回时已持有其睡眠锁
func (c *Cache) get(p *proc.Proc, dev, blockno uint32) (*Buf, error) {
	bk := c.buckets[c.BucketOf(blockno)]
	cpu := p.CPU()

	bk.lock.Acquire(cpu)
	if b := bk.lookup(dev, blockno); b != nil {
		b.refcnt++
		b.lastuse = c.clock.Ticks()
		bk.lock.Release(cpu)
		c.stats.RecordRequest(true)
		b.lock.Acquire(p)
		return b, nil
	}

	b := bk.victim()
	if b == nil {
		bk.lock.Release(cpu)
		atomic.AddInt64(&c.stats.Saturations, 1)
		c.log.WithFields(logrus.Fields{
			"dev":    dev,
			"block":  blockno,
			"bucket": bk.id,
		}).Warn("no evictable buffer")
		return nil, NewError("bget", errors.Wrapf(ErrCacheSaturated, "dev %d block %d bucket %d", dev, blockno, bk.id))
	}
	if b.dev != NoDevice {
		atomic.AddInt64(&c.stats.Evictions, 1)
	}
	b.dev = dev
	b.blockno = blockno
	b.valid = false
	b.refcnt = 1
	bk.lock.Release(cpu)
	c.stats.RecordRequest(false)

	// refcnt 刚从0变为1，不会有其他持有者
	b.lock.Acquire(p)
	return b, nil
}

// Read 返回已加锁且内容有效的缓冲区
func (c *Cache) Read(p *proc.Proc, dev, blockno uint32) (*Buf, error) {
	b, err := c.get(p, dev, blockno)
	if err != nil {
		return nil, err
	}
	if !b.valid {
		start := util.GetCurrentTimeNanos()
		err := c.io.ReadBlock(dev, blockno, b.data)
		c.stats.RecordIO(true, util.SinceNanos(start), err)
		if err != nil {
			c.log.WithFields(logrus.Fields{"dev": dev, "block": blockno}).Errorf("read failed: %v", err)
			c.Release(p, b)
			return nil, NewError("bread", &ioError{dev: dev, blockno: blockno, cause: err})
		}
		b.valid = true
	}
	return b, nil
}

// Write 把缓冲区内容同步写回磁盘。调用方必须持有缓冲区。
func (c *Cache) Write(p *proc.Proc, b *Buf) error {
	if !b.lock.Holding(p) {
		panic("bwrite")
	}
	start := util.GetCurrentTimeNanos()
	err := c.io.WriteBlock(b.dev, b.blockno, b.data)
	c.stats.RecordIO(false, util.SinceNanos(start), err)
	if err != nil {
		c.log.WithFields(logrus.Fields{"dev": b.dev, "block": b.blockno}).Errorf("write failed: %v", err)
		return NewError("bwrite", &ioError{dev: b.dev, blockno: b.blockno, write: true, cause: err})
	}
	return nil
}

// Release 释放缓冲区。引用计数降到0时记录当前时钟，成为桶内最近使用的可淘汰槽位。
func (c *Cache) Release(p *proc.Proc, b *Buf) {
	if !b.lock.Holding(p) {
		panic("brelse")
	}
	b.lock.Release(p)

	bk := b.bkt
	cpu := p.CPU()
	bk.lock.Acquire(cpu)
	b.refcnt--
	if b.refcnt == 0 {
		b.lastuse = c.clock.Ticks()
	}
	bk.lock.Release(cpu)
}

// Pin 增加引用计数，使缓冲区常驻，不需要持有睡眠锁
func (c *Cache) Pin(p *proc.Proc, b *Buf) {
	bk := b.bkt
	cpu := p.CPU()
	bk.lock.Acquire(cpu)
	b.refcnt++
	bk.lock.Release(cpu)
}

// Unpin 与 Pin 配对
func (c *Cache) Unpin(p *proc.Proc, b *Buf) {
	bk := b.bkt
	cpu := p.CPU()
	bk.lock.Acquire(cpu)
	if b.refcnt == 0 {
		bk.lock.Release(cpu)
		panic("bunpin")
	}
	b.refcnt--
	if b.refcnt == 0 {
		b.lastuse = c.clock.Ticks()
	}
	bk.lock.Release(cpu)
}

// Snapshot 各槽位元数据，逐桶加锁读取
func (c *Cache) Snapshot(cpu *proc.CPU) []SlotInfo {
	out := make([]SlotInfo, 0, c.cfg.Capacity())
	for _, bk := range c.buckets {
		out = append(out, bk.snapshot(cpu)...)
	}
	return out
}

// Stats 返回统计快照
func (c *Cache) Stats() Stats {
	return c.stats.snapshot()
}
