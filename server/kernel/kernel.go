package kernel

import (
	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/xkernel/logger"
	"github.com/zhukovaskychina/xkernel/server/conf"
	"github.com/zhukovaskychina/xkernel/server/kernel/bio"
	"github.com/zhukovaskychina/xkernel/server/kernel/clock"
	"github.com/zhukovaskychina/xkernel/server/kernel/disk"
	"github.com/zhukovaskychina/xkernel/server/kernel/kalloc"
	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
	"github.com/zhukovaskychina/xkernel/util"
)

// Kernel 启动时构建一次的全部子系统，按引用传给使用者
type Kernel struct {
	Cfg    *conf.Cfg
	Procs  *proc.Table
	Clock  *clock.Clock
	Memory *kalloc.Memory
	Kmem   *kalloc.Kmem
	Disks  *disk.Registry
	Cache  *bio.Cache

	log *logrus.Entry
}

// Boot 按配置启动。物理内存的全部页在 CPU 0 上交给分配器。
func Boot(cfg *conf.Cfg) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotate(err, "boot")
	}
	dist, err := kalloc.ParseDistribution(cfg.Distribution)
	if err != nil {
		return nil, errors.Annotate(err, "boot")
	}
	codec, err := disk.ParseCodec(cfg.Compression)
	if err != nil {
		return nil, errors.Annotate(err, "boot")
	}

	k := &Kernel{
		Cfg:   cfg,
		Procs: proc.NewTable(cfg.NCPU),
		Clock: clock.New(),
		Disks: disk.NewRegistry(),
		log:   logger.Subsystem("kernel"),
	}

	k.Memory, err = kalloc.NewMemory(kalloc.PA(cfg.PhysBase), cfg.PhysSize, cfg.UseMmap)
	if err != nil {
		return nil, errors.Annotatef(err, "map %s physical memory", humanize.IBytes(cfg.PhysSize))
	}
	k.Kmem = kalloc.New(k.Memory, cfg.NCPU,
		kalloc.WithPageSize(uint64(cfg.PageSize)),
		kalloc.WithDistribution(dist))

	p := k.Procs.SpawnOn("kinit", 0)
	k.Kmem.Init(p.CPU(), k.Memory.Base(), k.Memory.End())
	p.Exit()

	for _, spec := range cfg.Devices {
		if err := k.mount(spec, codec); err != nil {
			k.Shutdown()
			return nil, errors.Annotatef(err, "mount device %s", spec)
		}
	}

	k.Cache, err = bio.NewCache(bio.Config{
		NBucket:   cfg.NBucket,
		NBuf:      cfg.NBuf,
		BlockSize: cfg.BlockSize,
	}, k.Disks, k.Clock)
	if err != nil {
		k.Shutdown()
		return nil, errors.Annotate(err, "buffer cache")
	}

	k.Clock.Start(cfg.TickIntervalDuration)

	k.log.WithFields(logrus.Fields{
		"ncpu":    cfg.NCPU,
		"memory":  humanize.IBytes(k.Memory.Size()),
		"mmap":    k.Memory.Mapped(),
		"pages":   k.Kmem.FreeCount(),
		"buffers": cfg.NBucket * cfg.NBuf,
		"devices": len(cfg.Devices),
	}).Info("kernel booted")
	return k, nil
}

func (k *Kernel) mount(spec conf.DeviceSpec, codec disk.Codec) error {
	if spec.Mem {
		return k.Disks.Mount(spec.ID, disk.NewMemDevice(spec.NBlocks, k.Cfg.BlockSize))
	}

	exists, err := util.PathExists(spec.Path)
	if err != nil {
		return errors.Trace(err)
	}
	if !exists {
		if err := disk.CreateImage(spec.Path, k.Cfg.NBlocks, k.Cfg.BlockSize); err != nil {
			return errors.Trace(err)
		}
		k.log.WithFields(logrus.Fields{
			"path":   spec.Path,
			"blocks": k.Cfg.NBlocks,
			"size":   humanize.IBytes(uint64(k.Cfg.NBlocks) * uint64(k.Cfg.BlockSize)),
		}).Info("created disk image")
	}
	d, err := disk.OpenFileDevice(spec.Path, codec, k.Cfg.Checksum)
	if err != nil {
		return errors.Trace(err)
	}
	if d.BlockSize() != k.Cfg.BlockSize {
		d.Close()
		return errors.Annotatef(disk.ErrBlockSize, "%s has %d-byte blocks, cache uses %d", spec.Path, d.BlockSize(), k.Cfg.BlockSize)
	}
	if err := k.Disks.Mount(spec.ID, d); err != nil {
		d.Close()
		return errors.Trace(err)
	}
	return nil
}

// Shutdown 停止时钟，关闭设备并释放物理内存
func (k *Kernel) Shutdown() {
	k.Clock.Stop()
	if err := k.Disks.Close(); err != nil {
		k.log.Errorf("close devices: %v", errors.ErrorStack(err))
	}
	if k.Memory != nil {
		if err := k.Memory.Close(); err != nil {
			k.log.Errorf("release memory: %v", err)
		}
		k.Memory = nil
	}
	k.log.Info("kernel halted")
}
