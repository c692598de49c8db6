package util

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/assertions"
)

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "disk.img")

	ok, err := PathExists(file)
	if ok, msg := assertions.So(ok, assertions.ShouldBeFalse); !ok {
		t.Error(msg)
	}
	if ok, msg := assertions.So(err, assertions.ShouldBeNil); !ok {
		t.Error(msg)
	}

	if err := EnsureParentDir(file); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte("xkernel"), 0644); err != nil {
		t.Fatal(err)
	}
	ok, _ = PathExists(file)
	if ok, msg := assertions.So(ok, assertions.ShouldBeTrue); !ok {
		t.Error(msg)
	}

	size, err := FileSize(file)
	if ok, msg := assertions.So(size, assertions.ShouldEqual, int64(7)); !ok {
		t.Error(msg)
	}
}

func TestZeroReader(t *testing.T) {
	buf, err := io.ReadAll(io.LimitReader(ZeroReader{}, 4096))
	if err != nil {
		t.Fatal(err)
	}
	if ok, msg := assertions.So(len(buf), assertions.ShouldEqual, 4096); !ok {
		t.Error(msg)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d", i, b)
		}
	}
}
