package proc

import (
	"fmt"
	"sync/atomic"
)

// CPU 一个执行核心
//
// noff 记录 push_off 的嵌套深度，只有当前运行在该核心上的线程会修改它；
// 使用原子操作只是为了让其他核心上的诊断读取不产生数据竞争。
type CPU struct {
	id   int
	noff atomic.Int32
}

// ID 返回核心编号
func (c *CPU) ID() int {
	return c.id
}

// PushOff 关闭抢占，可嵌套
func (c *CPU) PushOff() {
	c.noff.Add(1)
}

// PopOff 与 PushOff 配对
func (c *CPU) PopOff() {
	if c.noff.Add(-1) < 0 {
		panic(fmt.Sprintf("pop_off: cpu %d", c.id))
	}
}

// Noff 当前嵌套深度
func (c *CPU) Noff() int {
	return int(c.noff.Load())
}

func (c *CPU) String() string {
	return fmt.Sprintf("cpu%d", c.id)
}
