package disk

import (
	"github.com/pkg/errors"
)

var (
	// 设备错误
	ErrNoDevice     = errors.New("no such device")
	ErrDeviceExists = errors.New("device already mounted")
	ErrOutOfRange   = errors.New("block number out of range")
	ErrBlockSize    = errors.New("buffer size does not match block size")

	// 镜像错误
	ErrBadImage = errors.New("not a block image")
	ErrChecksum = errors.New("block checksum mismatch")
	ErrShortIO  = errors.New("short read or write")

	// ErrInjected 由 MemDevice 的故障注入产生
	ErrInjected = errors.New("injected device fault")
)

// IsNoDevice 检查是否为设备不存在错误
func IsNoDevice(err error) bool {
	return errors.Is(err, ErrNoDevice)
}

// IsCorrupted 检查是否为块损坏
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrChecksum) || errors.Is(err, ErrBadImage)
}
