package util

import (
	"github.com/OneOfOne/xxhash"
)

// BlockChecksum 磁盘块内容校验和
func BlockChecksum(block []byte) uint64 {
	return xxhash.Checksum64(block)
}
