package latch

import (
	"runtime"
	"sync/atomic"

	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
)

// SpinLock 不可睡眠的互斥锁，用于短临界区
//
// 持有期间所在CPU处于关抢占状态（push_off），持有者不能执行任何可能阻塞的操作；
// proc.Proc.Yield 会在这种情况下 panic。
type SpinLock struct {
	name   string
	locked atomic.Bool
	cpu    atomic.Pointer[proc.CPU]
}

// NewSpinLock 创建一个自旋锁
func NewSpinLock(name string) *SpinLock {
	return &SpinLock{name: name}
}

func (l *SpinLock) Name() string {
	return l.name
}

// Acquire 在CPU c 上获取锁，忙等直到成功
func (l *SpinLock) Acquire(c *proc.CPU) {
	c.PushOff()
	if l.Holding(c) {
		panic("acquire " + l.name)
	}
	for !l.locked.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	l.cpu.Store(c)
}

// Release 释放锁，必须由持有锁的CPU调用
func (l *SpinLock) Release(c *proc.CPU) {
	if !l.Holding(c) {
		panic("release " + l.name)
	}
	l.cpu.Store(nil)
	l.locked.Store(false)
	c.PopOff()
}

// Holding 检查CPU c 是否持有该锁
func (l *SpinLock) Holding(c *proc.CPU) bool {
	return l.locked.Load() && l.cpu.Load() == c
}
