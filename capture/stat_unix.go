//go:build unix

package capture

import (
	"os"

	"golang.org/x/sys/unix"
)

func inodeOf(path string, _ os.FileInfo) uint64 {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0
	}
	return uint64(st.Ino)
}
