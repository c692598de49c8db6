package latch

import (
	"sync"

	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
)

// SleepLock 可睡眠的互斥锁，持有者可以在持锁期间阻塞（例如磁盘IO）
//
// 等待者让出所在CPU，获得锁之后再重新调度到CPU上。
type SleepLock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	locked bool
	pid    int
	name   string
}

// NewSleepLock 创建睡眠锁
func NewSleepLock(name string) *SleepLock {
	l := &SleepLock{name: name}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *SleepLock) Name() string {
	return l.name
}

// Acquire 获取锁。调用方不能持有任何自旋锁。
func (l *SleepLock) Acquire(p *proc.Proc) {
	if c := p.CPU(); c == nil || c.Noff() != 0 {
		panic("acquiresleep " + l.name + ": spinlock held")
	}

	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.pid = p.PID()
		l.mu.Unlock()
		return
	}
	if l.pid == p.PID() {
		l.mu.Unlock()
		panic("acquiresleep " + l.name + ": already held")
	}

	p.Yield()
	for l.locked {
		l.cond.Wait()
	}
	l.locked = true
	l.pid = p.PID()
	l.mu.Unlock()
	p.Resume()
}

// Release 释放锁，必须由持有者调用
func (l *SleepLock) Release(p *proc.Proc) {
	l.mu.Lock()
	if !l.locked || l.pid != p.PID() {
		l.mu.Unlock()
		panic("releasesleep " + l.name)
	}
	l.locked = false
	l.pid = 0
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Holding 检查 p 是否持有该锁
func (l *SleepLock) Holding(p *proc.Proc) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked && l.pid == p.PID()
}
