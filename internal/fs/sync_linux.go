//go:build linux

package fs

import "golang.org/x/sys/unix"

type fder interface {
	Fd() uintptr
}

// SyncData flushes file contents to stable storage.
// On Linux it uses fdatasync, which skips metadata that does not affect reads.
func SyncData(f File) error {
	if fd, ok := f.(fder); ok {
		for {
			err := unix.Fdatasync(int(fd.Fd()))
			if err != unix.EINTR {
				return err
			}
		}
	}
	return f.Sync()
}
