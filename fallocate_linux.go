//go:build linux

package raptor

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes of disk space for file and sets its
// length. Reserving up front turns a full disk into an error here instead
// of a failure partway through writing the index.
func fallocateFile(file *os.File, size int64) error {
	if err := unix.Fallocate(int(file.Fd()), 0, 0, size); err != nil {
		// Some filesystems (NFS among them) do not support fallocate.
		return unix.Ftruncate(int(file.Fd()), size)
	}
	// fallocate reserves blocks without changing the file length.
	return unix.Ftruncate(int(file.Fd()), size)
}
