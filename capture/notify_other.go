//go:build !linux

package capture

import "errors"

// Notifier is unavailable off Linux; the scan loop polls instead.
type Notifier struct{}

func NewNotifier(string) (*Notifier, error) {
	return nil, errors.New("inotify is only available on linux")
}

func (n *Notifier) C() <-chan struct{} { return nil }

func (n *Notifier) Close() error { return nil }
