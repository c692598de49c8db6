package bio

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrCacheSaturated 桶内没有可淘汰的缓冲区（全部被引用）
	ErrCacheSaturated = errors.New("buffer cache bucket saturated")
	// ErrIO 块设备读写失败
	ErrIO = errors.New("block IO error")
	// ErrInvalidConfig 缓存配置错误
	ErrInvalidConfig = errors.New("invalid buffer cache configuration")
)

// CacheError 缓冲区缓存错误
type CacheError struct {
	Op  string // 操作名称
	Err error  // 原始错误
}

func (e *CacheError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓存错误
func NewError(op string, err error) error {
	return &CacheError{
		Op:  op,
		Err: err,
	}
}

// ioError 把设备错误归类为 ErrIO，同时保留原始错误链
type ioError struct {
	dev     uint32
	blockno uint32
	write   bool
	cause   error
}

func (e *ioError) Error() string {
	dir := "read"
	if e.write {
		dir = "write"
	}
	return fmt.Sprintf("%s dev %d block %d: %v", dir, e.dev, e.blockno, e.cause)
}

func (e *ioError) Unwrap() error {
	return e.cause
}

func (e *ioError) Is(target error) bool {
	return target == ErrIO
}

// IsSaturated 检查是否为缓存饱和错误
func IsSaturated(err error) bool {
	return errors.Is(err, ErrCacheSaturated)
}

// IsIOError 检查是否为IO错误
func IsIOError(err error) bool {
	return errors.Is(err, ErrIO)
}
