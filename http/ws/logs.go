package ws

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daniellavrushin/httpcopy/log"
	"github.com/gorilla/websocket"
)

type logClient struct {
	conn     *websocket.Conn
	send     chan []byte
	minLevel log.Level
	dropped  atomic.Uint64
}

var (
	logHub     *LogHub
	logOnce    sync.Once
	logWriter  *lineWriter
	writerOnce sync.Once
)

// GetLogHub returns the process wide hub, starting it on first use.
func GetLogHub() *LogHub {
	logOnce.Do(func() {
		logHub = newLogHub()
		go logHub.run()
	})
	return logHub
}

func newLogHub() *LogHub {
	return &LogHub{
		clients: map[*logClient]struct{}{},
		history: make([][]byte, 0, historySize),
		in:      make(chan []byte, 1024),
		reg:     make(chan *logClient),
		unreg:   make(chan *logClient),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (h *LogHub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.reg:
			h.mu.Lock()
			for _, line := range h.recentLocked() {
				c.offer(line)
			}
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				if n := c.dropped.Load(); n > 0 {
					log.Tracef("Log stream client dropped %d line(s)", n)
				}
			}
			h.mu.Unlock()

		case line := <-h.in:
			h.mu.Lock()
			h.rememberLocked(line)
			for c := range h.clients {
				c.offer(line)
			}
			h.mu.Unlock()
		}
	}
}

func (h *LogHub) rememberLocked(line []byte) {
	if len(h.history) < historySize {
		h.history = append(h.history, line)
		return
	}
	h.history[h.next] = line
	h.next = (h.next + 1) % historySize
}

// recentLocked returns the history oldest first.
func (h *LogHub) recentLocked() [][]byte {
	if len(h.history) < historySize {
		return h.history
	}
	out := make([][]byte, 0, historySize)
	out = append(out, h.history[h.next:]...)
	return append(out, h.history[:h.next]...)
}

// Clients returns the number of connected subscribers.
func (h *LogHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// offer queues line for the client unless it is filtered out or the
// client is too slow to keep up.
func (c *logClient) offer(line []byte) {
	if lineLevel(line) > c.minLevel {
		return
	}
	select {
	case c.send <- line:
	default:
		c.dropped.Add(1)
	}
}

var levelTags = []struct {
	tag   []byte
	level log.Level
}{
	{[]byte("[ERROR]"), log.LevelError},
	{[]byte("[WARN]"), log.LevelError},
	{[]byte("[INFO]"), log.LevelInfo},
	{[]byte("[TRACE]"), log.LevelTrace},
	{[]byte("[DEBUG]"), log.LevelDebug},
}

// lineLevel reads the level tag the logger writes. Untagged lines count
// as info.
func lineLevel(line []byte) log.Level {
	for _, t := range levelTags {
		if bytes.Contains(line, t.tag) {
			return t.level
		}
	}
	return log.LevelInfo
}

// lineWriter splits logger output into lines for the hub. Lines are
// dropped when the hub is backed up; logging never blocks on subscribers.
type lineWriter struct {
	h       *LogHub
	mu      sync.Mutex
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.Clone(w.partial[:i])
		w.partial = w.partial[i+1:]
		select {
		case w.h.in <- line:
		case <-w.h.stop:
		default:
		}
	}
	if len(w.partial) == 0 {
		w.partial = nil
	}
	return len(p), nil
}

// LogWriter returns the writer the logger attaches as its stream sink.
func LogWriter() io.Writer {
	hub := GetLogHub()
	writerOnce.Do(func() {
		logWriter = &lineWriter{h: hub}
	})
	return logWriter
}

// HandleLogsWebSocket streams log lines. The optional level query
// parameter (error, info, trace, debug) limits what is sent.
func HandleLogsWebSocket(w http.ResponseWriter, r *http.Request) {
	serveLogs(GetLogHub(), w, r)
}

func serveLogs(h *LogHub, w http.ResponseWriter, r *http.Request) {
	minLevel := log.LevelDebug
	if lv := r.URL.Query().Get("level"); lv != "" {
		minLevel = log.ParseLevel(lv)
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade logs WebSocket: %v", err)
		return
	}

	c := &logClient{conn: conn, send: make(chan []byte, sendBuffer+historySize), minLevel: minLevel}
	log.Tracef("Log stream client connected: %s (level %s)", r.RemoteAddr, minLevel)

	select {
	case h.reg <- c:
	case <-h.stop:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump(h)
}

func (h *LogHub) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// Shutdown stops the hub and disconnects every client.
func Shutdown() {
	if logHub != nil {
		logHub.Stop()
		<-logHub.done
	}
}

func (c *logClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case line, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, line); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; subscribers send nothing.
func (c *logClient) readPump(h *LogHub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Tracef("Log stream read error: %v", err)
			}
			return
		}
	}
}
