package log

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the minimum level that will be emitted.
type Level int32

const (
	LevelSilent Level = iota - 1
	LevelError
	LevelInfo
	LevelTrace
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelSilent:
		return "silent"
	case LevelError:
		return "error"
	case LevelInfo:
		return "info"
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

const (
	flushInterval = 2 * time.Second
	bufferSize    = 16 * 1024
	lineFlags     = log.Ldate | log.Ltime | log.Lmicroseconds
)

// Sink names used by the process; AttachSink replaces a sink of the same name.
const (
	SinkConsole = "console"
	SinkSyslog  = "syslog"
	SinkStream  = "stream"
)

var CurLevel atomic.Int32

// sinks fans every line out to the named writers. A failing sink never
// blocks the others.
type sinks struct {
	mu sync.Mutex
	ws map[string]io.Writer
}

func (s *sinks) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.ws {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

func (s *sinks) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ws))
	for n := range s.ws {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// output is the active logger, optionally buffered and flushed on a timer.
type output struct {
	buf    *bufio.Writer
	logger *log.Logger
	stop   chan struct{}
	done   chan struct{}
}

var (
	mu         sync.Mutex
	origStderr = os.Stderr
	fanout     = &sinks{ws: map[string]io.Writer{SinkConsole: os.Stderr}}
	cur        *output
	insta      = true

	errMu     sync.Mutex
	errFile   *os.File
	errLogger *log.Logger
)

func init() {
	CurLevel.Store(int32(LevelInfo))
}

// Init replaces every sink with w as the console sink and sets the level
// and buffering.
func Init(w io.Writer, level Level, instaflush bool) {
	if w == nil {
		w = origStderr
	}
	fanout.mu.Lock()
	fanout.ws = map[string]io.Writer{SinkConsole: w}
	fanout.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	insta = instaflush
	CurLevel.Store(int32(level))
	reopenLocked()
}

// OrigStderr is the process stderr captured before any sink was attached.
func OrigStderr() io.Writer { return origStderr }

// AttachSink adds w under name, replacing any sink already using it.
func AttachSink(name string, w io.Writer) {
	if w == nil {
		return
	}
	fanout.mu.Lock()
	fanout.ws[name] = w
	fanout.mu.Unlock()
}

// DetachSink removes the named sink.
func DetachSink(name string) {
	fanout.mu.Lock()
	delete(fanout.ws, name)
	fanout.mu.Unlock()
}

// Sinks lists the attached sink names.
func Sinks() []string { return fanout.names() }

// EnableSyslog connects to the local syslog daemon and attaches it.
func EnableSyslog(tag string) error {
	sw, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return err
	}
	AttachSink(SinkSyslog, sw)
	return nil
}

func SetLevel(l Level) { CurLevel.Store(int32(l)) }

// SetInstaflush toggles buffering; turning it on flushes pending lines.
func SetInstaflush(v bool) {
	mu.Lock()
	defer mu.Unlock()
	if insta == v {
		return
	}
	insta = v
	reopenLocked()
}

func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if cur != nil && cur.buf != nil {
		_ = cur.buf.Flush()
	}
}

// InitErrorFile appends every Errorf line to path as well.
func InitErrorFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	errMu.Lock()
	defer errMu.Unlock()
	if errFile != nil {
		_ = errFile.Close()
	}
	errFile = f
	errLogger = log.New(f, "", lineFlags)
	return nil
}

func CloseErrorFile() {
	errMu.Lock()
	defer errMu.Unlock()
	if errFile == nil {
		return
	}
	_ = errFile.Sync()
	_ = errFile.Close()
	errFile, errLogger = nil, nil
}

// Errorf logs at error level and returns the formatted error, so callers can
// write `return log.Errorf("...: %w", err)`.
func Errorf(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	if !Enabled(LevelError) {
		return err
	}
	msg := "[ERROR] " + err.Error()
	emit("%s", msg)

	errMu.Lock()
	if errLogger != nil {
		errLogger.Println(msg)
	}
	errMu.Unlock()
	return err
}

// Warnf is shown at error level and above; warnings are not errors, so they
// stay out of the error file.
func Warnf(format string, a ...any) {
	if Enabled(LevelError) {
		emit("[WARN] "+format, a...)
	}
}

func Infof(format string, a ...any) {
	if Enabled(LevelInfo) {
		emit("[INFO] "+format, a...)
	}
}

func Tracef(format string, a ...any) {
	if Enabled(LevelTrace) {
		emit("[TRACE] "+format, a...)
	}
}

func Debugf(format string, a ...any) {
	if Enabled(LevelDebug) {
		emit("[DEBUG] "+format, a...)
	}
}

// Enabled reports whether lines at l are currently emitted.
func Enabled(l Level) bool { return Level(CurLevel.Load()) >= l }

func emit(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	if cur == nil {
		reopenLocked()
	}
	cur.logger.Printf(format, a...)
}

// reopenLocked swaps the active output, flushing and stopping the old one.
func reopenLocked() {
	if cur != nil {
		cur.close()
	}
	if insta {
		cur = &output{logger: log.New(fanout, "", lineFlags)}
		return
	}
	o := &output{
		buf:  bufio.NewWriterSize(fanout, bufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	o.logger = log.New(o.buf, "", lineFlags)
	go o.flushLoop()
	cur = o
}

func (o *output) flushLoop() {
	defer close(o.done)
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-t.C:
			mu.Lock()
			_ = o.buf.Flush()
			mu.Unlock()
		}
	}
}

// close runs with mu held, so it must not wait for the flush loop, which
// takes mu itself.
func (o *output) close() {
	if o.buf != nil {
		_ = o.buf.Flush()
	}
	if o.stop != nil {
		close(o.stop)
	}
}

// ParseLevel maps the --verbose names onto levels. Unknown names fall back
// to info.
func ParseLevel(name string) Level {
	switch name {
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	case "error":
		return LevelError
	case "silent":
		return LevelSilent
	default:
		return LevelInfo
	}
}
