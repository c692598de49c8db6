package bio

import (
	"sync/atomic"
	"time"
)

// Stats 缓冲区缓存统计信息
type Stats struct {
	// 命中率统计
	Requests int64
	Hits     int64
	Misses   int64

	// 淘汰统计
	Evictions   int64 // 重新标记了一个用过的槽位
	Saturations int64 // 桶内无可淘汰槽位

	// IO统计
	Reads      int64
	Writes     int64
	IOErrors   int64
	ReadNanos  int64 // 读延迟累计（纳秒）
	WriteNanos int64

	StartTime time.Time
}

func newStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// RecordRequest 记录一次查找
func (s *Stats) RecordRequest(hit bool) {
	atomic.AddInt64(&s.Requests, 1)
	if hit {
		atomic.AddInt64(&s.Hits, 1)
	} else {
		atomic.AddInt64(&s.Misses, 1)
	}
}

// RecordIO 记录一次块IO
func (s *Stats) RecordIO(isRead bool, latencyNs int64, err error) {
	if err != nil {
		atomic.AddInt64(&s.IOErrors, 1)
		return
	}
	if isRead {
		atomic.AddInt64(&s.Reads, 1)
		atomic.AddInt64(&s.ReadNanos, latencyNs)
	} else {
		atomic.AddInt64(&s.Writes, 1)
		atomic.AddInt64(&s.WriteNanos, latencyNs)
	}
}

func (s *Stats) snapshot() Stats {
	return Stats{
		Requests:    atomic.LoadInt64(&s.Requests),
		Hits:        atomic.LoadInt64(&s.Hits),
		Misses:      atomic.LoadInt64(&s.Misses),
		Evictions:   atomic.LoadInt64(&s.Evictions),
		Saturations: atomic.LoadInt64(&s.Saturations),
		Reads:       atomic.LoadInt64(&s.Reads),
		Writes:      atomic.LoadInt64(&s.Writes),
		IOErrors:    atomic.LoadInt64(&s.IOErrors),
		ReadNanos:   atomic.LoadInt64(&s.ReadNanos),
		WriteNanos:  atomic.LoadInt64(&s.WriteNanos),
		StartTime:   s.StartTime,
	}
}

// HitRatio 命中率
func (s Stats) HitRatio() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Requests)
}

// AvgReadLatency 平均读延迟
func (s Stats) AvgReadLatency() time.Duration {
	if s.Reads == 0 {
		return 0
	}
	return time.Duration(s.ReadNanos / s.Reads)
}
