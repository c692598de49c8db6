// mkimage 创建一个空的块设备镜像
//
//	mkimage --out data/fs.img --blocks 2000 --block-size 1024
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/zhukovaskychina/xkernel/server/kernel/disk"
	"github.com/zhukovaskychina/xkernel/server/kernel/param"
	"github.com/zhukovaskychina/xkernel/util"
)

func main() {
	flagSet := flag.NewFlagSet("mkimage", flag.ContinueOnError)
	out := flagSet.StringP("out", "o", "fs.img", "镜像文件路径")
	nblocks := flagSet.Uint32P("blocks", "b", 2000, "块数")
	blockSize := flagSet.Int("block-size", param.BSIZE, "块大小（字节）")
	force := flagSet.BoolP("force", "f", false, "覆盖已有镜像")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if err := mkimage(*out, *nblocks, *blockSize, *force); err != nil {
		fmt.Fprintln(os.Stderr, errors.ErrorStack(err))
		os.Exit(1)
	}
}

func mkimage(path string, nblocks uint32, blockSize int, force bool) error {
	if nblocks == 0 {
		return errors.New("--blocks must be positive")
	}
	exists, err := util.PathExists(path)
	if err != nil {
		return errors.Trace(err)
	}
	if exists && !force {
		return errors.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := disk.CreateImage(path, nblocks, blockSize); err != nil {
		return errors.Annotatef(err, "mkimage %s", path)
	}

	size, err := util.FileSize(path)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Printf("%s: %d blocks of %s, image %s\n",
		path, nblocks, humanize.IBytes(uint64(blockSize)), humanize.IBytes(uint64(size)))
	return nil
}
