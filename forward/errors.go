package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

type ErrorKind string

const (
	KindNone     ErrorKind = ""
	KindRefused  ErrorKind = "refused"
	KindTimeout  ErrorKind = "timeout"
	KindReset    ErrorKind = "reset"
	KindClosed   ErrorKind = "closed"
	KindCanceled ErrorKind = "canceled"
	KindIO       ErrorKind = "io"
)

var (
	ErrKindRefused  = errors.New("connection refused")
	ErrKindTimeout  = errors.New("timed out")
	ErrKindReset    = errors.New("connection reset")
	ErrKindClosed   = errors.New("connection closed by peer")
	ErrKindCanceled = errors.New("forward canceled")
	ErrKindIO       = errors.New("i/o error")
)

var kindErrors = map[ErrorKind]error{
	KindRefused:  ErrKindRefused,
	KindTimeout:  ErrKindTimeout,
	KindReset:    ErrKindReset,
	KindClosed:   ErrKindClosed,
	KindCanceled: ErrKindCanceled,
	KindIO:       ErrKindIO,
}

// Error is a failed unit. errors.Is matches it against the ErrKind
// sentinel of its kind as well as the underlying cause.
type Error struct {
	Seq  int
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unit %d: %s", e.Seq, e.Kind)
	}
	return fmt.Sprintf("unit %d: %s: %v", e.Seq, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

// kindOf maps a network error to its kind. ctx decides between a
// cancellation and a plain use of a closed connection.
func kindOf(ctx context.Context, err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var ne net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.ECONNRESET):
		return KindReset
	case errors.Is(err, syscall.EPIPE), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindClosed
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &ne) && ne.Timeout():
		return KindTimeout
	}
	return KindIO
}
