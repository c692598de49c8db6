//go:build unix

package kalloc

import "golang.org/x/sys/unix"

func mmapArena(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func munmapArena(b []byte) error {
	return unix.Munmap(b)
}
