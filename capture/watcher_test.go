package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherScan(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir)

	req := filepath.Join(dir, "010.000.000.001.05000-192.168.001.132.00080")
	resp := filepath.Join(dir, "192.168.001.132.00080-010.000.000.001.05000")
	os.WriteFile(req, []byte("GET / HTTP/1.1\r\n\r\n"), 0644)
	os.WriteFile(resp, []byte("HTTP/1.1 200 OK\r\n\r\n"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "forward"), 0755)

	t0 := time.Unix(1000, 0)
	res, err := w.Scan(t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("expected 2 capture files, got %d", len(res.Files))
	}
	if res.Ignored != 1 {
		t.Errorf("expected 1 ignored file, got %d", res.Ignored)
	}
	if res.Files[0].Key != res.Files[1].Key {
		t.Error("both directions should share a key")
	}
	for _, f := range res.Files {
		if !f.FirstSeenAt.Equal(t0) {
			t.Errorf("FirstSeenAt = %v, want %v", f.FirstSeenAt, t0)
		}
	}

	t.Run("first seen survives rescans", func(t *testing.T) {
		res, err := w.Scan(t0.Add(5 * time.Second))
		if err != nil {
			t.Fatal(err)
		}
		for _, f := range res.Files {
			if !f.FirstSeenAt.Equal(t0) {
				t.Errorf("FirstSeenAt moved to %v", f.FirstSeenAt)
			}
		}
	})

	t.Run("vanished file is absent", func(t *testing.T) {
		os.Remove(resp)
		res, err := w.Scan(t0.Add(10 * time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := res.Present[resp]; ok {
			t.Error("removed file reported present")
		}
		if _, ok := res.Present[req]; !ok {
			t.Error("remaining file missing")
		}
	})
}

func TestWatcherMissingDir(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "gone"))
	if _, err := w.Scan(time.Now()); err == nil {
		t.Error("expected error for missing directory")
	}
}
