package capture

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/daniellavrushin/httpcopy/log"
)

// Watcher enumerates the capture directory and reports every capture file
// with its current fingerprint. It never modifies the directory.
type Watcher struct {
	dir string

	mu    sync.Mutex
	known map[string]knownFile
}

type knownFile struct {
	fp        Fingerprint
	firstSeen time.Time
}

// ScanResult is one pass over the capture directory.
type ScanResult struct {
	Files   []CaptureFile
	Present map[string]struct{}
	Ignored int
}

func NewWatcher(dir string) *Watcher {
	return &Watcher{
		dir:   dir,
		known: make(map[string]knownFile),
	}
}

func (w *Watcher) Dir() string { return w.dir }

// Scan lists the directory once. Files that vanish between listing and
// stat are skipped; the next scan reports them as absent.
func (w *Watcher) Scan(now time.Time) (*ScanResult, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{Present: make(map[string]struct{}, len(entries))}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		src, dst, err := ParseName(name)
		if err != nil {
			res.Ignored++
			continue
		}

		path := filepath.Join(w.dir, name)
		prev, seen := w.known[path]
		var prevFP *Fingerprint
		if seen {
			prevFP = &prev.fp
		}

		fp, err := Stat(path, prevFP)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warnf("Failed to stat capture file %s: %v", name, err)
			}
			continue
		}

		firstSeen := now
		if seen {
			firstSeen = prev.firstSeen
		}
		w.known[path] = knownFile{fp: fp, firstSeen: firstSeen}
		res.Present[path] = struct{}{}

		res.Files = append(res.Files, CaptureFile{
			Path:        path,
			Name:        name,
			Src:         src,
			Dst:         dst,
			Key:         NewConnKey(src, dst),
			Fingerprint: fp,
			FirstSeenAt: firstSeen,
		})
	}

	for path := range w.known {
		if _, ok := res.Present[path]; !ok {
			delete(w.known, path)
		}
	}

	log.Debugf("Scanned %s: %d capture files, %d ignored", w.dir, len(res.Files), res.Ignored)
	return res, nil
}
