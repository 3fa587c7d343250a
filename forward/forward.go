package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/daniellavrushin/httpcopy/classify"
	"github.com/daniellavrushin/httpcopy/log"
)

const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultReadTimeout    = 5 * time.Second

	readChunk = 32 * 1024
)

// Result is the outcome of replaying one unit.
type Result struct {
	Seq               int
	TestResponseBytes []byte
	ErrorKind         ErrorKind
	Err               error
	StartedAt         time.Time
	Duration          time.Duration
}

// Forwarder replays captured requests against the test server. All units
// of one capture share one connection and are sent in order.
type Forwarder struct {
	Addr           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Dial overrides net.Dialer, for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func New(addr string, connectTimeout, readTimeout time.Duration) *Forwarder {
	return &Forwarder{Addr: addr, ConnectTimeout: connectTimeout, ReadTimeout: readTimeout}
}

func (f *Forwarder) connectTimeout() time.Duration {
	if f.ConnectTimeout > 0 {
		return f.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (f *Forwarder) readTimeout() time.Duration {
	if f.ReadTimeout > 0 {
		return f.ReadTimeout
	}
	return DefaultReadTimeout
}

func (f *Forwarder) dial(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, f.connectTimeout())
	defer cancel()
	if f.Dial != nil {
		return f.Dial(dctx, "tcp", f.Addr)
	}
	var d net.Dialer
	return d.DialContext(dctx, "tcp", f.Addr)
}

// Forward sends every unit and returns one result per unit. The returned
// error is the first unit failure; units after it are not sent and carry
// the same kind.
func (f *Forwarder) Forward(ctx context.Context, units []classify.RequestUnit) ([]Result, error) {
	results := make([]Result, len(units))
	for i, u := range units {
		results[i].Seq = u.Seq
	}
	if len(units) == 0 {
		return results, nil
	}

	start := time.Now()
	conn, err := f.dial(ctx)
	if err != nil {
		kind := kindOf(ctx, err)
		if kind == KindCanceled && ctx.Err() == nil {
			kind = KindTimeout
		}
		ferr := &Error{Seq: units[0].Seq, Kind: kind, Err: fmt.Errorf("dial %s: %w", f.Addr, err)}
		failFrom(results, 0, ferr, start)
		return results, ferr
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	peerClosed := false
	for i, u := range units {
		if peerClosed {
			ferr := &Error{Seq: u.Seq, Kind: KindClosed, Err: errors.New("test server closed the connection")}
			failFrom(results, i, ferr, time.Now())
			return results, ferr
		}

		res := &results[i]
		res.StartedAt = time.Now()
		var closed bool
		res.TestResponseBytes, closed, err = f.exchange(ctx, conn, u)
		res.Duration = time.Since(res.StartedAt)
		if err != nil {
			ferr := &Error{Seq: u.Seq, Kind: kindOf(ctx, err), Err: err}
			res.ErrorKind, res.Err = ferr.Kind, ferr
			failFrom(results, i+1, ferr, time.Now())
			return results, ferr
		}
		peerClosed = closed
		log.Debugf("Forwarded unit %d %s %s to %s: %d response bytes in %v",
			u.Seq, u.Method, u.Target, f.Addr, len(res.TestResponseBytes), res.Duration)
	}
	return results, nil
}

// exchange writes one request and collects its response. closed reports
// that the response ended with the peer closing the connection.
func (f *Forwarder) exchange(ctx context.Context, conn net.Conn, u classify.RequestUnit) (resp []byte, closed bool, err error) {
	idle := f.readTimeout()

	if err := conn.SetWriteDeadline(time.Now().Add(idle)); err != nil {
		return nil, false, err
	}
	if _, err := conn.Write(u.RequestBytes); err != nil {
		return nil, false, fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, readChunk)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return resp, false, err
		}
		n, rerr := conn.Read(buf)
		resp = append(resp, buf[:n]...)
		if rerr == nil {
			if classify.ResponseComplete(resp, u.Method) {
				return resp, false, nil
			}
			continue
		}
		if ctx.Err() != nil {
			return resp, false, fmt.Errorf("read: %w", ctx.Err())
		}

		var ne net.Error
		switch {
		case errors.Is(rerr, io.EOF):
			if len(resp) == 0 {
				return nil, true, fmt.Errorf("read: %w", rerr)
			}
			return resp, true, nil
		case errors.As(rerr, &ne) && ne.Timeout():
			if len(resp) == 0 {
				return nil, false, fmt.Errorf("no response within %v: %w", idle, rerr)
			}
			// Response without framing; silence marks its end.
			return resp, false, nil
		default:
			return resp, false, fmt.Errorf("read: %w", rerr)
		}
	}
}

func failFrom(results []Result, from int, ferr *Error, at time.Time) {
	for i := from; i < len(results); i++ {
		results[i].ErrorKind = ferr.Kind
		results[i].Err = ferr
		if results[i].StartedAt.IsZero() {
			results[i].StartedAt = at
		}
	}
}
