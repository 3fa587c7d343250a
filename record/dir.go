package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const timestampLayout = "20060102_150405"

// DirStore writes each session's exchanges into its own directory under
// base: NNN.request, NNN.response, NNN.forward-response and NNN.json.
type DirStore struct {
	base string

	mu   sync.Mutex
	dirs *lru.Cache[string, string]
}

func NewDirStore(base string) (*DirStore, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	dirs, err := lru.New[string, string](1024)
	if err != nil {
		return nil, err
	}
	return &DirStore{base: base, dirs: dirs}, nil
}

func (s *DirStore) Base() string { return s.base }

func sanitize(key string) string {
	return strings.NewReplacer(":", "_", "[", "", "]", "").Replace(key)
}

// sessionDir returns the directory for ex's session, creating a fresh one
// on the session's first exchange.
func (s *DirStore) sessionDir(ex Exchange) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir, ok := s.dirs.Get(ex.SessionID); ok {
		return dir, nil
	}

	name := ex.CapturedAt.Format(timestampLayout) + "_" + sanitize(ex.Key)
	for i := 0; ; i++ {
		dir := filepath.Join(s.base, name)
		if i > 0 {
			dir += "." + strconv.Itoa(i)
		}
		err := os.Mkdir(dir, 0755)
		if err == nil {
			s.dirs.Add(ex.SessionID, dir)
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}
}

func (s *DirStore) Save(_ context.Context, ex Exchange) error {
	dir, err := s.sessionDir(ex)
	if err != nil {
		return err
	}

	prefix := filepath.Join(dir, fmt.Sprintf("%03d", ex.Seq))
	meta, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return err
	}
	files := []struct {
		suffix string
		data   []byte
	}{
		{".request", ex.Request},
		{".response", ex.ProductionResponse},
		{".forward-response", ex.TestResponse},
		{".json", meta},
	}
	for _, f := range files {
		if err := os.WriteFile(prefix+f.suffix, f.data, 0644); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

func (s *DirStore) Close() error {
	s.dirs.Purge()
	return nil
}
