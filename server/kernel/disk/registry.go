package disk

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/xkernel/logger"
)

// Registry 设备号到块设备的映射，实现缓冲区缓存的同步块IO
type Registry struct {
	mu      sync.RWMutex
	devices map[uint32]Device
	log     *logrus.Entry
}

func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[uint32]Device),
		log:     logger.Subsystem("disk"),
	}
}

// Mount 挂载设备
func (r *Registry) Mount(dev uint32, d Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[dev]; ok {
		return errors.Wrapf(ErrDeviceExists, "dev %d", dev)
	}
	r.devices[dev] = d
	r.log.WithFields(logrus.Fields{
		"dev":    dev,
		"blocks": d.NBlocks(),
		"bsize":  d.BlockSize(),
	}).Info("mounted block device")
	return nil
}

// Unmount 卸载并关闭设备
func (r *Registry) Unmount(dev uint32) error {
	r.mu.Lock()
	d, ok := r.devices[dev]
	delete(r.devices, dev)
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNoDevice, "dev %d", dev)
	}
	return d.Close()
}

// Device 按设备号查找
func (r *Registry) Device(dev uint32) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[dev]
	if !ok {
		return nil, errors.Wrapf(ErrNoDevice, "dev %d", dev)
	}
	return d, nil
}

// Devices 已挂载的设备号，升序
func (r *Registry) Devices() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint32, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReadBlock 从设备 dev 读取一块
func (r *Registry) ReadBlock(dev, blockno uint32, dst []byte) error {
	d, err := r.Device(dev)
	if err != nil {
		return err
	}
	return d.ReadBlock(blockno, dst)
}

// WriteBlock 向设备 dev 写入一块
func (r *Registry) WriteBlock(dev, blockno uint32, src []byte) error {
	d, err := r.Device(dev)
	if err != nil {
		return err
	}
	return d.WriteBlock(blockno, src)
}

// Close 关闭所有设备，返回第一个错误
func (r *Registry) Close() error {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[uint32]Device)
	r.mu.Unlock()

	var first error
	for id, d := range devices {
		if err := d.Close(); err != nil {
			r.log.WithField("dev", id).Errorf("close device: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
