package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/daniellavrushin/httpcopy/log"
)

type Category string

const (
	Forward       Category = "forward"
	ForwardFailed Category = "forward_failed"
	Invalid       Category = "invalid"
	InvalidOneway Category = "invalid_oneway"
	InvalidServer Category = "invalid_server"
	InvalidURL    Category = "invalid_url"
)

var Categories = []Category{Forward, ForwardFailed, Invalid, InvalidOneway, InvalidServer, InvalidURL}

const timestampLayout = "20060102_150405"

// maxCollisions bounds the ".N" suffix search.
const maxCollisions = 10000

type Archiver struct {
	base string
	now  func() time.Time
}

func New(base string) *Archiver {
	return &Archiver{base: base, now: time.Now}
}

func (a *Archiver) Base() string { return a.base }

func (a *Archiver) Dir(c Category) string {
	return filepath.Join(a.base, string(c))
}

// EnsureDirs creates every category directory.
func (a *Archiver) EnsureDirs() error {
	for _, c := range Categories {
		if err := os.MkdirAll(a.Dir(c), 0755); err != nil {
			return fmt.Errorf("create %s: %w", a.Dir(c), err)
		}
	}
	return nil
}

// Place moves file into the category directory and returns where it went.
// A missing source means another caller already moved it; that is not an
// error and dest is empty. Existing files are never overwritten.
func (a *Archiver) Place(file string, c Category) (string, error) {
	if _, err := os.Lstat(file); errors.Is(err, fs.ErrNotExist) {
		log.Debugf("Archive: %s already gone", file)
		return "", nil
	}

	dir := a.Dir(c)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	name := filepath.Base(file)
	if c == Forward || c == ForwardFailed {
		name = a.now().Format(timestampLayout) + "_" + name
	}

	for i := 0; i < maxCollisions; i++ {
		dest := filepath.Join(dir, name)
		if i > 0 {
			dest += "." + strconv.Itoa(i)
		}
		err := moveNoReplace(file, dest)
		switch {
		case err == nil:
			log.Tracef("Archive: %s -> %s", file, dest)
			return dest, nil
		case errors.Is(err, fs.ErrExist):
			continue
		case errors.Is(err, fs.ErrNotExist):
			if _, serr := os.Lstat(file); errors.Is(serr, fs.ErrNotExist) {
				return "", nil
			}
			return "", fmt.Errorf("move %s: %w", file, err)
		default:
			return "", fmt.Errorf("move %s: %w", file, err)
		}
	}
	return "", fmt.Errorf("move %s: too many name collisions in %s", file, dir)
}
