package util

import "encoding/binary"

// 按游标读取，小端。返回新的游标位置。

func ReadBytes(buff []byte, cursor int, offset int) (int, []byte) {
	if offset <= 0 {
		return cursor, nil
	}
	return cursor + offset, buff[cursor : cursor+offset]
}

func ReadByte(buff []byte, cursor int) (int, byte) {
	return cursor + 1, buff[cursor]
}

func ReadUB2(buff []byte, cursor int) (int, uint16) {
	return cursor + 2, binary.LittleEndian.Uint16(buff[cursor:])
}

func ReadUB4(buff []byte, cursor int) (int, uint32) {
	return cursor + 4, binary.LittleEndian.Uint32(buff[cursor:])
}

func ReadUB8(buff []byte, cursor int) (int, uint64) {
	return cursor + 8, binary.LittleEndian.Uint64(buff[cursor:])
}
