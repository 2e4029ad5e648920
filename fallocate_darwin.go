//go:build darwin

package raptor

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes of disk space for file and sets its
// length, via fcntl F_PREALLOCATE on macOS.
func fallocateFile(file *os.File, size int64) error {
	// F_ALLOCATEALL: reserve the full amount or fail.
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  0,
		Length:  size,
	}
	if err := unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst); err != nil {
		return unix.Ftruncate(int(file.Fd()), size)
	}
	// F_PREALLOCATE reserves space without changing the file length.
	return unix.Ftruncate(int(file.Fd()), size)
}
