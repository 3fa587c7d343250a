package ws

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/daniellavrushin/httpcopy/log"
	"github.com/google/go-cmp/cmp"
)

func startHub(t *testing.T) *LogHub {
	t.Helper()
	h := newLogHub()
	go h.run()
	t.Cleanup(func() {
		h.Stop()
		<-h.done
	})
	return h
}

func waitHistory(t *testing.T, h *LogHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.RLock()
		got := len(h.history)
		h.mu.RUnlock()
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("history has %d lines, want %d", got, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func drain(c *logClient) []string {
	var out []string
	for {
		select {
		case line := <-c.send:
			out = append(out, string(line))
		default:
			return out
		}
	}
}

func TestHubReplaysFilteredHistory(t *testing.T) {
	h := startHub(t)
	w := &lineWriter{h: h}

	io.WriteString(w, "2024/03/05 [INFO] started\n2024/03/05 [TRACE] scan\n")
	io.WriteString(w, "2024/03/05 [ERROR] bro")
	io.WriteString(w, "ken\n")
	waitHistory(t, h, 3)

	c := &logClient{send: make(chan []byte, 16), minLevel: log.LevelInfo}
	h.reg <- c
	// A second registration round-trip orders after the first.
	h.reg <- &logClient{send: make(chan []byte, 16), minLevel: log.LevelDebug}

	want := []string{"2024/03/05 [INFO] started", "2024/03/05 [ERROR] broken"}
	if diff := cmp.Diff(want, drain(c)); diff != "" {
		t.Errorf("replayed lines (-want +got):\n%s", diff)
	}
	if got := h.Clients(); got != 2 {
		t.Errorf("Clients() = %d, want 2", got)
	}
}

func TestHistoryRing(t *testing.T) {
	h := newLogHub()
	for i := 0; i < historySize+5; i++ {
		h.rememberLocked([]byte(fmt.Sprintf("line %d", i)))
	}
	recent := h.recentLocked()
	if len(recent) != historySize {
		t.Fatalf("len = %d", len(recent))
	}
	if got := string(recent[0]); got != "line 5" {
		t.Errorf("oldest = %q, want line 5", got)
	}
	if got := string(recent[historySize-1]); got != fmt.Sprintf("line %d", historySize+4) {
		t.Errorf("newest = %q", got)
	}
}

func TestSlowClientDropsLines(t *testing.T) {
	c := &logClient{send: make(chan []byte, 1), minLevel: log.LevelDebug}
	c.offer([]byte("a"))
	c.offer([]byte("b"))
	if got := c.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}
