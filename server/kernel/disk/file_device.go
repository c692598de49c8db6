package disk

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xkernel/util"
)

/*
镜像文件布局（小端）:

	+------------------+ 0
	| image header 64B | magic "XKIMG001", block size u32, nblocks u32
	+------------------+ 64
	| frame 0          | frame header 16B + block size 字节的槽位
	| frame 1          |
	| ...              |

帧头: magic "XKB1", codec u8, 保留 u8, payload 长度 u16, 解压后内容的 xxhash64。
从未写过的帧全为0，读出全零块。
*/
const (
	imageHeaderSize = 64
	frameHeaderSize = 16
	maxBlockSize    = 0xFFFF
)

var (
	imageMagic = []byte("XKIMG001")
	frameMagic = []byte("XKB1")
)

// FileDevice 基于镜像文件的块设备
type FileDevice struct {
	f       *os.File
	path    string
	bsize   int
	nblocks uint32
	codec   Codec
	verify  bool

	frames sync.Pool
}

// CreateImage 原子地创建一个空镜像
func CreateImage(path string, nblocks uint32, blockSize int) error {
	if blockSize <= 0 || blockSize > maxBlockSize {
		return errors.Wrapf(ErrBlockSize, "block size %d", blockSize)
	}
	if err := util.EnsureParentDir(path); err != nil {
		return errors.Wrapf(err, "create image %s", path)
	}
	hdr := make([]byte, 0, imageHeaderSize)
	hdr = util.WriteBytes(hdr, imageMagic)
	hdr = util.WriteUB4(hdr, uint32(blockSize))
	hdr = util.WriteUB4(hdr, nblocks)
	hdr = util.WriteZero(hdr, imageHeaderSize-len(hdr))

	frames := int64(nblocks) * int64(frameHeaderSize+blockSize)
	r := io.MultiReader(bytes.NewReader(hdr), io.LimitReader(util.ZeroReader{}, frames))
	return errors.Wrapf(atomic.WriteFile(path, r), "create image %s", path)
}

// OpenFileDevice 打开镜像。codec 决定后续写入使用的压缩方法，
// verify 为 true 时读取会校验 xxhash。
func OpenFileDevice(path string, codec Codec, verify bool) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	hdr := make([]byte, imageHeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrBadImage, "%s: read header: %v", path, err)
	}
	if !bytes.Equal(hdr[:len(imageMagic)], imageMagic) {
		f.Close()
		return nil, errors.Wrapf(ErrBadImage, "%s: bad magic", path)
	}

	cursor, bsize := util.ReadUB4(hdr, len(imageMagic))
	_, nblocks := util.ReadUB4(hdr, cursor)
	d := &FileDevice{
		f:       f,
		path:    path,
		bsize:   int(bsize),
		nblocks: nblocks,
		codec:   codec,
		verify:  verify,
	}
	if d.bsize <= 0 || d.bsize > maxBlockSize {
		f.Close()
		return nil, errors.Wrapf(ErrBadImage, "%s: block size %d", path, d.bsize)
	}
	d.frames.New = func() interface{} {
		b := make([]byte, frameHeaderSize+d.bsize)
		return &b
	}
	return d, nil
}

func (d *FileDevice) frameOffset(blockno uint32) int64 {
	return imageHeaderSize + int64(blockno)*int64(frameHeaderSize+d.bsize)
}

func (d *FileDevice) ReadBlock(blockno uint32, dst []byte) error {
	if err := checkIO(d, blockno, dst); err != nil {
		return err
	}
	bp := d.frames.Get().(*[]byte)
	defer d.frames.Put(bp)
	frame := *bp

	n, err := d.f.ReadAt(frame, d.frameOffset(blockno))
	if n < len(frame) {
		if err == nil || err == io.EOF {
			err = ErrShortIO
		}
		return errors.Wrapf(err, "%s: read block %d", d.path, blockno)
	}

	hdr := frame[:frameHeaderSize]
	if isZero(hdr) {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	cursor, magic := util.ReadBytes(hdr, 0, len(frameMagic))
	if !bytes.Equal(magic, frameMagic) {
		return errors.Wrapf(ErrBadImage, "%s: block %d: bad frame magic", d.path, blockno)
	}
	cursor, c := util.ReadByte(hdr, cursor)
	cursor, plen := util.ReadUB2(hdr, cursor+1)
	_, sum := util.ReadUB8(hdr, cursor)
	codec, length := Codec(c), int(plen)
	if length > d.bsize {
		return errors.Wrapf(ErrBadImage, "%s: block %d: payload %d bytes", d.path, blockno, length)
	}
	if err := decodeBlock(codec, frame[frameHeaderSize:frameHeaderSize+length], dst); err != nil {
		return errors.WithMessagef(err, "%s: block %d", d.path, blockno)
	}
	if d.verify {
		if util.BlockChecksum(dst) != sum {
			return errors.Wrapf(ErrChecksum, "%s: block %d", d.path, blockno)
		}
	}
	return nil
}

func (d *FileDevice) WriteBlock(blockno uint32, src []byte) error {
	if err := checkIO(d, blockno, src); err != nil {
		return err
	}
	payload, codec, err := encodeBlock(d.codec, src, d.bsize)
	if err != nil {
		return errors.WithMessagef(err, "%s: block %d", d.path, blockno)
	}

	bp := d.frames.Get().(*[]byte)
	defer d.frames.Put(bp)
	frame := *bp

	hdr := util.WriteBytes(frame[:0], frameMagic)
	hdr = util.WriteByte(hdr, byte(codec))
	hdr = util.WriteZero(hdr, 1)
	hdr = util.WriteUB2(hdr, uint16(len(payload)))
	util.WriteUB8(hdr, util.BlockChecksum(src))
	n := copy(frame[frameHeaderSize:], payload)
	for i := frameHeaderSize + n; i < len(frame); i++ {
		frame[i] = 0
	}

	if _, err := d.f.WriteAt(frame, d.frameOffset(blockno)); err != nil {
		return errors.Wrapf(err, "%s: write block %d", d.path, blockno)
	}
	return nil
}

func (d *FileDevice) NBlocks() uint32 {
	return d.nblocks
}

func (d *FileDevice) BlockSize() int {
	return d.bsize
}

func (d *FileDevice) Path() string {
	return d.path
}

// Sync 把写入刷到磁盘
func (d *FileDevice) Sync() error {
	return errors.Wrapf(d.f.Sync(), "%s: sync", d.path)
}

func (d *FileDevice) Close() error {
	return errors.Wrapf(d.f.Close(), "%s: close", d.path)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
