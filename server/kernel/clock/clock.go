package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock 单调递增的时钟滴答计数
//
// 由定时器协程推进，也可以手动 Tick。读取只用于LRU的先后比较。
type Clock struct {
	ticks atomic.Uint64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func New() *Clock {
	return &Clock{}
}

// Ticks 当前滴答数
func (c *Clock) Ticks() uint64 {
	return c.ticks.Load()
}

// Tick 推进一个滴答，返回新值
func (c *Clock) Tick() uint64 {
	return c.ticks.Add(1)
}

// Start 启动定时器协程，每隔 interval 推进一次。重复调用无效。
func (c *Clock) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil || interval <= 0 {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(interval, c.stop, c.done)
}

func (c *Clock) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Tick()
		case <-stop:
			return
		}
	}
}

// Stop 停止定时器协程并等待其退出
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop = nil
	c.done = nil
}
