//go:build linux

package archive

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// moveNoReplace renames atomically and fails with fs.ErrExist instead of
// replacing an existing destination.
func moveNoReplace(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) {
		return linkAndRemove(src, dst)
	}
	if err != nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: err}
	}
	return nil
}
