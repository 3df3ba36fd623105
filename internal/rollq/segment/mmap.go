package segment

import (
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapFile maps the first size bytes of f shared, read-only unless writable.
func mapFile(f *os.File, size int64, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
}

func unmap(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// msyncRange flushes the pages covering data[off:off+n].
func msyncRange(data []byte, off, n int64) error {
	page := int64(os.Getpagesize())
	start := off &^ (page - 1)
	end := off + n
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if start >= end {
		return nil
	}
	return unix.Msync(data[start:end], unix.MS_SYNC)
}

// loadWord atomically reads the 32-bit word at off. off must be 4-byte aligned.
func loadWord(data []byte, off int64) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&data[off]))) //nolint:gosec
}

// storeWord atomically publishes w at off. off must be 4-byte aligned.
func storeWord(data []byte, off int64, w uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&data[off])), w) //nolint:gosec
}
