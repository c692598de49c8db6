package disk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 1024

func patterned(seed byte) []byte {
	b := make([]byte, testBlockSize)
	for i := range b {
		b[i] = seed + byte(i%7)
	}
	return b
}

func random(seed int64) []byte {
	b := make([]byte, testBlockSize)
	x := uint64(seed)*2654435761 + 1
	for i := range b {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		b[i] = byte(x)
	}
	return b
}

func TestCodecRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"zero":      make([]byte, testBlockSize),
		"patterned": patterned(3),
		"random":    random(42),
	}
	for _, c := range []Codec{COMPRESSION_NONE, COMPRESSION_SNAPPY, COMPRESSION_LZ4} {
		for name, in := range inputs {
			t.Run(c.String()+"/"+name, func(t *testing.T) {
				payload, used, err := encodeBlock(c, in, testBlockSize)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(payload), testBlockSize)

				out := make([]byte, testBlockSize)
				require.NoError(t, decodeBlock(used, payload, out))
				assert.True(t, bytes.Equal(in, out))
			})
		}
	}
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("LZ4")
	require.NoError(t, err)
	assert.Equal(t, COMPRESSION_LZ4, c)

	c, err = ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, COMPRESSION_NONE, c)

	_, err = ParseCodec("zstd")
	assert.Error(t, err)
}

func TestMemDevice(t *testing.T) {
	d := NewMemDevice(8, testBlockSize)
	buf := make([]byte, testBlockSize)

	require.NoError(t, d.ReadBlock(3, buf))
	assert.True(t, bytes.Equal(make([]byte, testBlockSize), buf))

	require.NoError(t, d.WriteBlock(3, patterned(1)))
	require.NoError(t, d.ReadBlock(3, buf))
	assert.True(t, bytes.Equal(patterned(1), buf))

	err := d.ReadBlock(8, buf)
	assert.ErrorIs(t, err, ErrOutOfRange)
	err = d.WriteBlock(0, buf[:10])
	assert.ErrorIs(t, err, ErrBlockSize)

	d.FailReads(true)
	assert.ErrorIs(t, d.ReadBlock(3, buf), ErrInjected)
	d.FailReads(false)
	d.FailWrites(true)
	assert.ErrorIs(t, d.WriteBlock(3, buf), ErrInjected)

	assert.Equal(t, int64(2), d.Reads())
	assert.Equal(t, int64(1), d.Writes())
}

func TestFileDevice(t *testing.T) {
	for _, c := range []Codec{COMPRESSION_NONE, COMPRESSION_SNAPPY, COMPRESSION_LZ4} {
		t.Run(c.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "img", "fs.img")
			require.NoError(t, CreateImage(path, 16, testBlockSize))

			d, err := OpenFileDevice(path, c, true)
			require.NoError(t, err)
			assert.Equal(t, uint32(16), d.NBlocks())
			assert.Equal(t, testBlockSize, d.BlockSize())

			buf := make([]byte, testBlockSize)
			require.NoError(t, d.ReadBlock(0, buf))
			assert.True(t, bytes.Equal(make([]byte, testBlockSize), buf), "未写过的块读出全零")

			require.NoError(t, d.WriteBlock(1, patterned(9)))
			require.NoError(t, d.WriteBlock(15, random(7)))
			require.NoError(t, d.Sync())
			require.NoError(t, d.Close())

			// 重新打开后内容保持
			d, err = OpenFileDevice(path, COMPRESSION_NONE, true)
			require.NoError(t, err)
			defer d.Close()
			require.NoError(t, d.ReadBlock(1, buf))
			assert.True(t, bytes.Equal(patterned(9), buf))
			require.NoError(t, d.ReadBlock(15, buf))
			assert.True(t, bytes.Equal(random(7), buf))

			assert.ErrorIs(t, d.ReadBlock(16, buf), ErrOutOfRange)
		})
	}
}

func TestFileDeviceCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.img")
	require.NoError(t, CreateImage(path, 4, testBlockSize))

	d, err := OpenFileDevice(path, COMPRESSION_NONE, true)
	require.NoError(t, err)
	require.NoError(t, d.WriteBlock(2, patterned(5)))
	require.NoError(t, d.Close())

	// 翻转块2数据区的一个字节
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	off := int64(imageHeaderSize + 2*(frameHeaderSize+testBlockSize) + frameHeaderSize + 100)
	_, err = f.WriteAt([]byte{0xFF}, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	d, err = OpenFileDevice(path, COMPRESSION_NONE, true)
	require.NoError(t, err)
	defer d.Close()
	buf := make([]byte, testBlockSize)
	err = d.ReadBlock(2, buf)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.True(t, IsCorrupted(err))

	unchecked, err := OpenFileDevice(path, COMPRESSION_NONE, false)
	require.NoError(t, err)
	defer unchecked.Close()
	assert.NoError(t, unchecked.ReadBlock(2, buf))
}

func TestOpenBadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.img")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, 128), 0644))
	_, err := OpenFileDevice(path, COMPRESSION_NONE, true)
	assert.ErrorIs(t, err, ErrBadImage)

	_, err = OpenFileDevice(filepath.Join(t.TempDir(), "missing.img"), COMPRESSION_NONE, true)
	assert.Error(t, err)

	assert.ErrorIs(t, CreateImage(path, 1, 0), ErrBlockSize)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Mount(1, NewMemDevice(4, testBlockSize)))
	require.NoError(t, r.Mount(0, NewMemDevice(4, testBlockSize)))
	assert.ErrorIs(t, r.Mount(1, NewMemDevice(4, testBlockSize)), ErrDeviceExists)
	assert.Equal(t, []uint32{0, 1}, r.Devices())

	require.NoError(t, r.WriteBlock(1, 2, patterned(4)))
	buf := make([]byte, testBlockSize)
	require.NoError(t, r.ReadBlock(1, 2, buf))
	assert.True(t, bytes.Equal(patterned(4), buf))

	// 设备之间互不影响
	require.NoError(t, r.ReadBlock(0, 2, buf))
	assert.True(t, bytes.Equal(make([]byte, testBlockSize), buf))

	err := r.ReadBlock(7, 0, buf)
	assert.True(t, IsNoDevice(err))

	require.NoError(t, r.Unmount(0))
	assert.True(t, IsNoDevice(r.Unmount(0)))
	require.NoError(t, r.Close())
	assert.Empty(t, r.Devices())
}
