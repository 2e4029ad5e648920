//go:build !linux && !darwin

package raptor

import "os"

// fallocateFile sets the file length. Platforms without a native
// preallocation syscall get the length but not a block reservation.
func fallocateFile(file *os.File, size int64) error {
	return file.Truncate(size)
}
