//go:build !linux

package fs

// SyncData flushes file contents to stable storage.
func SyncData(f File) error {
	return f.Sync()
}
