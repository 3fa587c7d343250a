//go:build linux

package capture

import (
	"fmt"
	"os"

	"github.com/daniellavrushin/httpcopy/log"
	"golang.org/x/sys/unix"
)

const inotifyMask = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_CLOSE_WRITE |
	unix.IN_MOVED_TO | unix.IN_MOVED_FROM | unix.IN_DELETE

// Notifier turns inotify events on the capture directory into coalesced
// wakeups for the scan loop.
type Notifier struct {
	file *os.File
	wake chan struct{}
	done chan struct{}
}

func NewNotifier(dir string) (*Notifier, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}
	if _, err := unix.InotifyAddWatch(fd, dir, inotifyMask); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify watch %s: %w", dir, err)
	}

	n := &Notifier{
		// Non-blocking fd wrapped in os.File so Close unblocks Read.
		file: os.NewFile(uintptr(fd), "inotify"),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.readLoop()
	return n, nil
}

// C delivers at most one pending wakeup at a time.
func (n *Notifier) C() <-chan struct{} {
	if n == nil {
		return nil
	}
	return n.wake
}

func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	err := n.file.Close()
	<-n.done
	return err
}

func (n *Notifier) readLoop() {
	defer close(n.done)
	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
	for {
		nr, err := n.file.Read(buf)
		if err != nil {
			log.Tracef("inotify reader stopped: %v", err)
			return
		}
		if nr < unix.SizeofInotifyEvent {
			continue
		}
		select {
		case n.wake <- struct{}{}:
		default:
		}
	}
}
