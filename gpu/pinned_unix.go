//go:build linux || darwin

package gpu

import "golang.org/x/sys/unix"

// mmapPinned backs a pinned host allocation with an anonymous mmap
// that is then mlock'd, so the pages are both page-aligned (a real
// requirement for zero-copy DMA sources) and resident (mlock keeps
// them from being paged out mid-transfer).
func mmapPinned(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, newErr(KindConfig, "mmapPinned", "mmap", err)
	}
	if err := unix.Mlock(b); err != nil {
		// Locking failed (commonly RLIMIT_MEMLOCK) but the mapping
		// itself is usable; degrade to an unlocked pinned buffer
		// rather than failing host_alloc outright.
		if Debug {
			Log("mlock failed for %d bytes: %v (continuing unlocked)", size, err)
		}
	}
	return b, nil
}

func munmapPinned(b []byte) error {
	_ = unix.Munlock(b)
	return unix.Munmap(b)
}
