package util

import "encoding/binary"

// 追加写入，小端。buf 容量足够时不分配内存。

func WriteByte(buf []byte, b byte) []byte {
	return append(buf, b)
}

func WriteBytes(buf []byte, from []byte) []byte {
	return append(buf, from...)
}

func WriteUB2(buf []byte, i uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, i)
}

func WriteUB4(buf []byte, i uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, i)
}

func WriteUB8(buf []byte, i uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, i)
}

// WriteZero 追加 n 个0字节
func WriteZero(buf []byte, n int) []byte {
	for ; n > 0; n-- {
		buf = append(buf, 0)
	}
	return buf
}
