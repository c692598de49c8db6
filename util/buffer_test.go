package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferWriteRead(t *testing.T) {
	buf := make([]byte, 0, 32)
	buf = WriteBytes(buf, []byte("XKB1"))
	buf = WriteByte(buf, 2)
	buf = WriteZero(buf, 1)
	buf = WriteUB2(buf, 0x1234)
	buf = WriteUB4(buf, 0xdeadbeef)
	buf = WriteUB8(buf, 1<<40+7)
	assert.Len(t, buf, 20)
	assert.Equal(t, []byte{0x34, 0x12}, buf[6:8], "小端")

	cursor, magic := ReadBytes(buf, 0, 4)
	assert.Equal(t, "XKB1", string(magic))
	cursor, b := ReadByte(buf, cursor)
	assert.Equal(t, byte(2), b)
	cursor++
	cursor, u2 := ReadUB2(buf, cursor)
	assert.Equal(t, uint16(0x1234), u2)
	cursor, u4 := ReadUB4(buf, cursor)
	assert.Equal(t, uint32(0xdeadbeef), u4)
	cursor, u8 := ReadUB8(buf, cursor)
	assert.Equal(t, uint64(1<<40+7), u8)
	assert.Equal(t, len(buf), cursor)

	next, none := ReadBytes(buf, 3, 0)
	assert.Equal(t, 3, next)
	assert.Nil(t, none)
}

func TestWriteInPlace(t *testing.T) {
	frame := make([]byte, 16)
	hdr := WriteUB4(frame[:0], 0x01020304)
	hdr[0] = 9
	assert.Equal(t, byte(9), frame[0], "容量足够时写入原数组")
}
