package workload

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	natomic "github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/xkernel/logger"
	"github.com/zhukovaskychina/xkernel/server/kernel"
	"github.com/zhukovaskychina/xkernel/server/kernel/bio"
	"github.com/zhukovaskychina/xkernel/server/kernel/kalloc"
	"github.com/zhukovaskychina/xkernel/server/kernel/param"
	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
	"github.com/zhukovaskychina/xkernel/util"
)

// 每个线程同时持有的页数上限，超出后释放最早的一页
const holdPages = 4

// Report 一次压测的结果
type Report struct {
	Workload    string        `json:"workload"`
	Procs       int           `json:"procs"`
	Ops         int64         `json:"ops"`
	Failures    int64         `json:"failures"`
	Saturations int64         `json:"saturations,omitempty"`
	IOErrors    int64         `json:"io_errors,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Elapsed     string        `json:"elapsed"`

	Kalloc *kalloc.Stats `json:"kalloc,omitempty"`
	Cache  *bio.Stats    `json:"bcache,omitempty"`
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: procs=%d ops=%d failures=%d saturations=%d io_errors=%d elapsed=%s",
		r.Workload, r.Procs, r.Ops, r.Failures, r.Saturations, r.IOErrors, r.Elapsed)
}

// WriteFile 把报告以 JSON 原子写入 path
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	if err := util.EnsureParentDir(path); err != nil {
		return errors.Annotatef(err, "report %s", path)
	}
	return errors.Annotatef(natomic.WriteFile(path, bytes.NewReader(data)), "report %s", path)
}

type counters struct {
	ops         atomic.Int64
	failures    atomic.Int64
	saturations atomic.Int64
	ioErrors    atomic.Int64
}

func (c *counters) report(name string, procs int, start time.Time) *Report {
	d := time.Since(start)
	return &Report{
		Workload:    name,
		Procs:       procs,
		Ops:         c.ops.Load(),
		Failures:    c.failures.Load(),
		Saturations: c.saturations.Load(),
		IOErrors:    c.ioErrors.Load(),
		Duration:    d,
		Elapsed:     d.String(),
	}
}

// firstError 记录第一个发现的错误
type firstError struct {
	once sync.Once
	err  error
}

func (f *firstError) set(err error) {
	f.once.Do(func() { f.err = err })
}

// RunPages procs 个线程并发分配、写入、校验并释放页
//
// 刚分配的页必须是 JunkByte 填充，写入后其他线程不能改动。
// 分配失败计入 Failures，不算错误。
func RunPages(k *kernel.Kernel, procs, ops int) (*Report, error) {
	var (
		c     counters
		wg    sync.WaitGroup
		first firstError
		start = time.Now()
		log   = logger.Subsystem("workload")
	)
	for i := 0; i < procs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k.Procs.Run(fmt.Sprintf("pages%d", i), func(p *proc.Proc) {
				if err := pageWorker(k.Kmem, p, ops, &c); err != nil {
					first.set(err)
				}
			})
		}(i)
	}
	wg.Wait()

	r := c.report("pages", procs, start)
	stats := k.Kmem.Stats()
	r.Kalloc = &stats
	log.WithFields(logrus.Fields{
		"steals":      stats.Steals,
		"steal_ratio": fmt.Sprintf("%.3f", stats.StealRatio()),
		"free":        k.Kmem.FreeCount(),
	}).Info(r.String())
	return r, first.err
}

func pageWorker(km *kalloc.Kmem, p *proc.Proc, ops int, c *counters) error {
	held := make([]kalloc.PA, 0, holdPages)
	defer func() {
		for _, pa := range held {
			km.Free(p.CPU(), pa)
		}
	}()

	stamp := byte(p.PID())
	if stamp == param.JunkByte || stamp == param.PoisonByte {
		stamp = 0xA5
	}
	for n := 0; n < ops; n++ {
		pa, ok := km.Alloc(p.CPU())
		c.ops.Add(1)
		if !ok {
			c.failures.Add(1)
			if len(held) > 0 {
				km.Free(p.CPU(), held[0])
				held = held[1:]
			}
			continue
		}
		page := km.Page(pa)
		if page[0] != param.JunkByte || page[len(page)-1] != param.JunkByte {
			return errors.Errorf("page %#x handed out without junk fill", uint64(pa))
		}
		for i := range page {
			page[i] = stamp
		}
		held = append(held, pa)

		if len(held) == holdPages {
			victim := held[0]
			held = held[1:]
			if !bytes.Equal(km.Page(victim), bytes.Repeat([]byte{stamp}, len(page))) {
				return errors.Errorf("page %#x changed while owned by %v", uint64(victim), p)
			}
			km.Free(p.CPU(), victim)
		}
	}
	return nil
}

// 块内容布局：[0,4) 块号+1，[4,12) 版本号。全零表示从未写过。
const (
	stampOff   = 0
	versionOff = 4
)

// RunBlocks procs 个线程并发对第一个设备的前 nblocks 块做读-改-写
//
// 每次写入把块的版本号加一，结束后所有块版本号之和必须等于成功写入的次数。
// 饱和与IO错误计数后继续，块内容不一致时返回错误。
func RunBlocks(k *kernel.Kernel, procs, ops int, nblocks uint32) (*Report, error) {
	devs := k.Disks.Devices()
	if len(devs) == 0 {
		return nil, errors.New("no block device mounted")
	}
	dev := devs[0]
	d, err := k.Disks.Device(dev)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if nblocks == 0 || nblocks > d.NBlocks() {
		nblocks = d.NBlocks()
	}

	var (
		c      counters
		writes atomic.Int64
		wg     sync.WaitGroup
		first  firstError
		start  = time.Now()
		log    = logger.Subsystem("workload")
	)
	base, err := versionSum(k, dev, nblocks)
	if err != nil {
		return nil, err
	}

	for i := 0; i < procs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(i) + 1))
			k.Procs.Run(fmt.Sprintf("blocks%d", i), func(p *proc.Proc) {
				for n := 0; n < ops; n++ {
					blockno := uint32(rng.Intn(int(nblocks)))
					ok, err := blockOp(k.Cache, p, dev, blockno, &c)
					if err != nil {
						first.set(err)
						return
					}
					if ok {
						writes.Add(1)
					}
				}
			})
		}(i)
	}
	wg.Wait()

	r := c.report("blocks", procs, start)
	if first.err != nil {
		return r, first.err
	}

	sum, err := versionSum(k, dev, nblocks)
	if err != nil {
		return r, err
	}
	if sum-base != uint64(writes.Load()) {
		return r, errors.Errorf("lost updates: %d writes but versions advanced by %d", writes.Load(), sum-base)
	}

	stats := k.Cache.Stats()
	r.Cache = &stats
	log.WithFields(logrus.Fields{
		"hit_ratio": fmt.Sprintf("%.3f", stats.HitRatio()),
		"evictions": stats.Evictions,
		"avg_read":  stats.AvgReadLatency(),
	}).Info(r.String())
	return r, nil
}

// blockOp 一次读-改-写，返回是否成功写入
func blockOp(cache *bio.Cache, p *proc.Proc, dev, blockno uint32, c *counters) (bool, error) {
	c.ops.Add(1)
	b, err := cache.Read(p, dev, blockno)
	switch {
	case bio.IsSaturated(err):
		c.saturations.Add(1)
		c.failures.Add(1)
		return false, nil
	case bio.IsIOError(err):
		c.ioErrors.Add(1)
		c.failures.Add(1)
		return false, nil
	case err != nil:
		return false, errors.Trace(err)
	}
	defer cache.Release(p, b)

	data := b.Data()
	if got := binary.LittleEndian.Uint32(data[stampOff:]); got != 0 && got != blockno+1 {
		return false, errors.Errorf("dev %d block %d carries stamp of block %d", dev, blockno, got-1)
	}
	binary.LittleEndian.PutUint32(data[stampOff:], blockno+1)
	version := binary.LittleEndian.Uint64(data[versionOff:])
	binary.LittleEndian.PutUint64(data[versionOff:], version+1)

	if err := cache.Write(p, b); err != nil {
		// 缓冲区内容已经改动，恢复版本号
		binary.LittleEndian.PutUint64(data[versionOff:], version)
		c.ioErrors.Add(1)
		c.failures.Add(1)
		return false, nil
	}
	return true, nil
}

func versionSum(k *kernel.Kernel, dev, nblocks uint32) (uint64, error) {
	var sum uint64
	var err error
	k.Procs.Run("verify", func(p *proc.Proc) {
		for blockno := uint32(0); blockno < nblocks; blockno++ {
			b, rerr := k.Cache.Read(p, dev, blockno)
			if rerr != nil {
				err = errors.Annotatef(rerr, "verify dev %d block %d", dev, blockno)
				return
			}
			sum += binary.LittleEndian.Uint64(b.Data()[versionOff:])
			k.Cache.Release(p, b)
		}
	})
	return sum, err
}
