package archive

import (
	"errors"
	"io/fs"
	"os"
)

// linkAndRemove is the fallback when the filesystem cannot rename without
// replacing: link fails if dst exists, then the source name is dropped.
// Only the caller whose Remove succeeds owns the move; a loser unlinks its
// own copy and reports fs.ErrNotExist.
func linkAndRemove(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return err
	}
	err := os.Remove(src)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		if rerr := os.Remove(dst); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return rerr
		}
	}
	return err
}
