//go:build !unix

package kalloc

import "errors"

func mmapArena(size int) ([]byte, error) {
	return nil, errors.New("mmap not supported on this platform")
}

func munmapArena(b []byte) error {
	return nil
}
