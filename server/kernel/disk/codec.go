package disk

import (
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Codec 块压缩方法
type Codec uint8

// 压缩方法常量，写入帧头
const (
	COMPRESSION_NONE   Codec = iota // 不压缩
	COMPRESSION_SNAPPY              // snappy
	COMPRESSION_LZ4                 // lz4 块格式
)

func (c Codec) String() string {
	switch c {
	case COMPRESSION_NONE:
		return "none"
	case COMPRESSION_SNAPPY:
		return "snappy"
	case COMPRESSION_LZ4:
		return "lz4"
	}
	return "unknown"
}

// ParseCodec 解析配置中的压缩方法
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return COMPRESSION_NONE, nil
	case "snappy":
		return COMPRESSION_SNAPPY, nil
	case "lz4":
		return COMPRESSION_LZ4, nil
	}
	return COMPRESSION_NONE, errors.Errorf("unsupported compression method %q", s)
}

// encodeBlock 压缩 src。压缩后不小于 limit 时返回原始内容和 COMPRESSION_NONE。
func encodeBlock(c Codec, src []byte, limit int) ([]byte, Codec, error) {
	switch c {
	case COMPRESSION_NONE:
		return src, COMPRESSION_NONE, nil
	case COMPRESSION_SNAPPY:
		out := snappy.Encode(nil, src)
		if len(out) >= limit {
			return src, COMPRESSION_NONE, nil
		}
		return out, COMPRESSION_SNAPPY, nil
	case COMPRESSION_LZ4:
		out := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, out, nil)
		if err != nil {
			return nil, c, errors.Wrap(err, "lz4 compress")
		}
		// n == 0 表示数据不可压缩
		if n == 0 || n >= limit {
			return src, COMPRESSION_NONE, nil
		}
		return out[:n], COMPRESSION_LZ4, nil
	}
	return nil, c, errors.Errorf("unsupported compression method %d", c)
}

// decodeBlock 把 payload 解压到 dst，dst 长度必须等于块大小
func decodeBlock(c Codec, payload, dst []byte) error {
	switch c {
	case COMPRESSION_NONE:
		if len(payload) != len(dst) {
			return errors.Wrapf(ErrBadImage, "raw payload %d bytes, block %d", len(payload), len(dst))
		}
		copy(dst, payload)
		return nil
	case COMPRESSION_SNAPPY:
		n, err := snappy.DecodedLen(payload)
		if err != nil {
			return errors.Wrap(ErrBadImage, err.Error())
		}
		if n != len(dst) {
			return errors.Wrapf(ErrBadImage, "snappy payload decodes to %d bytes, block %d", n, len(dst))
		}
		if _, err := snappy.Decode(dst, payload); err != nil {
			return errors.Wrap(ErrBadImage, err.Error())
		}
		return nil
	case COMPRESSION_LZ4:
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return errors.Wrap(ErrBadImage, err.Error())
		}
		if n != len(dst) {
			return errors.Wrapf(ErrBadImage, "lz4 payload decodes to %d bytes, block %d", n, len(dst))
		}
		return nil
	}
	return errors.Wrapf(ErrBadImage, "unknown codec %d", c)
}
