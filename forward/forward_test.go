package forward

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daniellavrushin/httpcopy/classify"
	"github.com/google/go-cmp/cmp"
)

// testServer accepts connections and hands each one to handle.
func testServer(t *testing.T, handle func(net.Conn)) (addr string, accepted *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted = new(atomic.Int32)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return ln.Addr().String(), accepted
}

func units(reqs ...string) []classify.RequestUnit {
	out := make([]classify.RequestUnit, len(reqs))
	for i, r := range reqs {
		method, target, _ := classify.ParseRequestLine([]byte(r[:len(r)-len("\r\n\r\n")]))
		out[i] = classify.RequestUnit{Seq: i + 1, Method: method, Target: target, RequestBytes: []byte(r)}
	}
	return out
}

func echoPaths(conn net.Conn) {
	br := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		body := req.URL.Path
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+body)
	}
}

func TestForwardInOrderOnOneConnection(t *testing.T) {
	addr, accepted := testServer(t, echoPaths)
	f := New(addr, time.Second, time.Second)

	results, err := f.Forward(context.Background(), units(
		"GET /first HTTP/1.1\r\n\r\n",
		"GET /second HTTP/1.1\r\n\r\n",
		"GET /third HTTP/1.1\r\n\r\n",
	))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	var got []string
	for _, r := range results {
		if r.ErrorKind != KindNone {
			t.Errorf("unit %d failed: %v", r.Seq, r.Err)
		}
		got = append(got, string(r.TestResponseBytes))
	}
	want := []string{
		"HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\n/first",
		"HTTP/1.1 200 OK\r\nContent-Length: 7\r\n\r\n/second",
		"HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\n/third",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
	if n := accepted.Load(); n != 1 {
		t.Errorf("expected one connection, got %d", n)
	}
}

func TestForwardRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	f := New(addr, time.Second, time.Second)
	results, err := f.Forward(context.Background(), units("GET / HTTP/1.1\r\n\r\n", "GET /b HTTP/1.1\r\n\r\n"))
	if !errors.Is(err, ErrKindRefused) {
		t.Fatalf("expected refused, got %v", err)
	}
	for _, r := range results {
		if r.ErrorKind != KindRefused {
			t.Errorf("unit %d kind = %q, want refused", r.Seq, r.ErrorKind)
		}
	}
}

func TestForwardUnframedResponseEndsOnSilence(t *testing.T) {
	addr, _ := testServer(t, func(conn net.Conn) {
		http.ReadRequest(bufio.NewReader(conn))
		io.WriteString(conn, "HTTP/1.0 200 OK\r\n\r\nstream")
		time.Sleep(2 * time.Second)
	})
	f := New(addr, time.Second, 200*time.Millisecond)

	results, err := f.Forward(context.Background(), units("GET / HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if string(results[0].TestResponseBytes) != "HTTP/1.0 200 OK\r\n\r\nstream" {
		t.Errorf("got %q", results[0].TestResponseBytes)
	}
}

func TestForwardNoResponseTimesOut(t *testing.T) {
	addr, _ := testServer(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})
	f := New(addr, time.Second, 200*time.Millisecond)

	_, err := f.Forward(context.Background(), units("GET / HTTP/1.1\r\n\r\n"))
	if !errors.Is(err, ErrKindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Seq != 1 {
		t.Errorf("expected *Error for unit 1, got %#v", err)
	}
}

func TestForwardPeerClosed(t *testing.T) {
	addr, _ := testServer(t, func(conn net.Conn) {
		http.ReadRequest(bufio.NewReader(conn))
		io.WriteString(conn, "HTTP/1.0 200 OK\r\n\r\nbye")
	})
	f := New(addr, time.Second, time.Second)

	results, err := f.Forward(context.Background(), units("GET /a HTTP/1.1\r\n\r\n", "GET /b HTTP/1.1\r\n\r\n"))
	if !errors.Is(err, ErrKindClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
	if results[0].ErrorKind != KindNone || string(results[0].TestResponseBytes) != "HTTP/1.0 200 OK\r\n\r\nbye" {
		t.Errorf("first unit should succeed, got %+v", results[0])
	}
	if results[1].ErrorKind != KindClosed {
		t.Errorf("second unit kind = %q, want closed", results[1].ErrorKind)
	}
}

func TestForwardCanceled(t *testing.T) {
	addr, _ := testServer(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})
	f := New(addr, time.Second, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := f.Forward(ctx, units("GET / HTTP/1.1\r\n\r\n"))
	if !errors.Is(err, ErrKindCanceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not unblock the read")
	}
}

func TestForwardNoUnits(t *testing.T) {
	f := New("127.0.0.1:1", time.Second, time.Second)
	results, err := f.Forward(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("got %v, %v", results, err)
	}
}
