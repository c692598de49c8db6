package proc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Table 固定数量的CPU，以独占令牌的方式分配给内核线程
//
// 一个 Proc 运行时持有一个CPU；在睡眠锁上等待时让出CPU，
// 被唤醒后重新获取任意空闲CPU（绑定了亲和性的线程只会回到原CPU）。
type Table struct {
	mu      sync.Mutex
	cond    *sync.Cond
	cpus    []*CPU
	busy    []bool
	nextPID atomic.Int64
}

// NewTable 创建包含 ncpu 个核心的CPU表
func NewTable(ncpu int) *Table {
	if ncpu < 1 {
		panic(fmt.Sprintf("proc: invalid ncpu %d", ncpu))
	}
	t := &Table{
		cpus: make([]*CPU, ncpu),
		busy: make([]bool, ncpu),
	}
	t.cond = sync.NewCond(&t.mu)
	for i := range t.cpus {
		t.cpus[i] = &CPU{id: i}
	}
	return t
}

func (t *Table) NCPU() int {
	return len(t.cpus)
}

// CPU 按编号返回核心
func (t *Table) CPU(id int) *CPU {
	return t.cpus[id]
}

// Idle 返回当前空闲核心数
func (t *Table) Idle() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.busy {
		if !b {
			n++
		}
	}
	return n
}

// Spawn 创建线程并阻塞直到分配到一个空闲CPU
func (t *Table) Spawn(name string) *Proc {
	return t.spawn(name, -1)
}

// SpawnOn 创建绑定到指定CPU的线程
func (t *Table) SpawnOn(name string, cpu int) *Proc {
	if cpu < 0 || cpu >= len(t.cpus) {
		panic(fmt.Sprintf("proc: no cpu %d", cpu))
	}
	return t.spawn(name, cpu)
}

func (t *Table) spawn(name string, affinity int) *Proc {
	p := &Proc{
		pid:      int(t.nextPID.Add(1)),
		name:     name,
		table:    t,
		affinity: affinity,
	}
	p.cpu = t.take(affinity)
	return p
}

// Run 在一个新线程中执行 fn，返回前线程退出并归还CPU
func (t *Table) Run(name string, fn func(p *Proc)) {
	p := t.Spawn(name)
	defer p.Exit()
	fn(p)
}

func (t *Table) take(want int) *CPU {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if want >= 0 {
			if !t.busy[want] {
				t.busy[want] = true
				return t.cpus[want]
			}
		} else {
			for i, b := range t.busy {
				if !b {
					t.busy[i] = true
					return t.cpus[i]
				}
			}
		}
		t.cond.Wait()
	}
}

func (t *Table) put(c *CPU) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.busy[c.id] {
		panic(fmt.Sprintf("proc: %v already idle", c))
	}
	t.busy[c.id] = false
	t.cond.Broadcast()
}

// Proc 内核线程
type Proc struct {
	pid      int
	name     string
	table    *Table
	cpu      *CPU
	affinity int
}

func (p *Proc) PID() int {
	return p.pid
}

func (p *Proc) Name() string {
	return p.name
}

// CPU 返回线程当前运行的核心，让出期间为 nil
func (p *Proc) CPU() *CPU {
	return p.cpu
}

// Yield 让出CPU。持有自旋锁（关抢占）时不允许让出。
func (p *Proc) Yield() {
	c := p.cpu
	if c == nil {
		panic(fmt.Sprintf("yield: pid %d not running", p.pid))
	}
	if c.Noff() != 0 {
		panic("sched locks")
	}
	p.cpu = nil
	p.table.put(c)
}

// Resume 重新获取CPU
func (p *Proc) Resume() {
	if p.cpu != nil {
		panic(fmt.Sprintf("resume: pid %d already running on %v", p.pid, p.cpu))
	}
	p.cpu = p.table.take(p.affinity)
}

// Exit 线程结束，归还CPU
func (p *Proc) Exit() {
	if p.cpu != nil {
		p.Yield()
	}
}

func (p *Proc) String() string {
	return fmt.Sprintf("%s[%d]", p.name, p.pid)
}
