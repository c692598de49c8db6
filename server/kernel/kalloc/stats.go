package kalloc

import "sync/atomic"

// Stats 分配器统计信息
type Stats struct {
	Allocs   int64 // 成功分配次数
	Frees    int64
	Steals   int64 // 从其他CPU窃取的次数
	Failures int64 // 无可用页
}

func (s *Stats) snapshot() Stats {
	return Stats{
		Allocs:   atomic.LoadInt64(&s.Allocs),
		Frees:    atomic.LoadInt64(&s.Frees),
		Steals:   atomic.LoadInt64(&s.Steals),
		Failures: atomic.LoadInt64(&s.Failures),
	}
}

// StealRatio 窃取占成功分配的比例
func (s Stats) StealRatio() float64 {
	if s.Allocs == 0 {
		return 0
	}
	return float64(s.Steals) / float64(s.Allocs)
}
