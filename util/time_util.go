package util

import "time"

// GetCurrentTimeNanos 获取当前时间的纳秒时间戳
func GetCurrentTimeNanos() int64 {
	return time.Now().UnixNano()
}

// SinceNanos 从 start（纳秒时间戳）到现在经过的纳秒数
func SinceNanos(start int64) int64 {
	return time.Now().UnixNano() - start
}
