package latch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xkernel/server/kernel/proc"
)

func TestSpinLock(t *testing.T) {
	t.Run("TestMutualExclusion", func(t *testing.T) {
		tbl := proc.NewTable(4)
		l := NewSpinLock("counter")
		counter := 0

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tbl.Run("inc", func(p *proc.Proc) {
					for j := 0; j < 1000; j++ {
						l.Acquire(p.CPU())
						counter++
						l.Release(p.CPU())
					}
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, 8000, counter)
	})

	t.Run("TestPushOff", func(t *testing.T) {
		c := proc.NewTable(1).CPU(0)
		l := NewSpinLock("noff")
		l.Acquire(c)
		assert.True(t, l.Holding(c))
		assert.Equal(t, 1, c.Noff())
		l.Release(c)
		assert.False(t, l.Holding(c))
		assert.Equal(t, 0, c.Noff())
	})

	t.Run("TestReacquire", func(t *testing.T) {
		c := proc.NewTable(1).CPU(0)
		l := NewSpinLock("twice")
		l.Acquire(c)
		assert.PanicsWithValue(t, "acquire twice", func() { l.Acquire(c) })
	})

	t.Run("TestReleaseNotHeld", func(t *testing.T) {
		tbl := proc.NewTable(2)
		l := NewSpinLock("other")
		l.Acquire(tbl.CPU(0))
		assert.PanicsWithValue(t, "release other", func() { l.Release(tbl.CPU(1)) })
		l.Release(tbl.CPU(0))
	})
}

func TestSleepLock(t *testing.T) {
	t.Run("TestHolding", func(t *testing.T) {
		tbl := proc.NewTable(2)
		a := tbl.Spawn("a")
		b := tbl.Spawn("b")
		defer a.Exit()
		defer b.Exit()

		l := NewSleepLock("buffer")
		l.Acquire(a)
		assert.True(t, l.Holding(a))
		assert.False(t, l.Holding(b))
		assert.Panics(t, func() { l.Release(b) })
		l.Release(a)
		assert.False(t, l.Holding(a))
	})

	t.Run("TestSleepWithSpinLock", func(t *testing.T) {
		tbl := proc.NewTable(1)
		p := tbl.Spawn("p")
		spin := NewSpinLock("bucket")
		sleep := NewSleepLock("buffer")

		spin.Acquire(p.CPU())
		assert.Panics(t, func() { sleep.Acquire(p) })
		spin.Release(p.CPU())
		p.Exit()
	})

	t.Run("TestWaiterYieldsCPU", func(t *testing.T) {
		tbl := proc.NewTable(1)
		l := NewSleepLock("io")

		a := tbl.Spawn("a")
		l.Acquire(a)
		// 模拟持锁等待磁盘IO
		a.Yield()

		acquired := make(chan struct{})
		go func() {
			b := tbl.Spawn("b")
			l.Acquire(b)
			assert.NotNil(t, b.CPU())
			l.Release(b)
			b.Exit()
			close(acquired)
		}()

		// b 在睡眠锁上等待时必须让出唯一的CPU，否则这里会永远阻塞
		a.Resume()
		require.True(t, l.Holding(a))
		l.Release(a)
		a.Exit()

		<-acquired
		assert.Equal(t, 1, tbl.Idle())
	})

	t.Run("TestConcurrentExclusion", func(t *testing.T) {
		tbl := proc.NewTable(2)
		l := NewSleepLock("shared")
		inside := 0
		maxInside := 0

		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tbl.Run("worker", func(p *proc.Proc) {
					for j := 0; j < 50; j++ {
						l.Acquire(p)
						inside++
						if inside > maxInside {
							maxInside = inside
						}
						inside--
						l.Release(p)
					}
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxInside)
	})
}
