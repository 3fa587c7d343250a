package forward

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestMonitorCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	var changes []bool
	m := NewMonitor(addr, time.Minute, time.Second, func(up bool) { changes = append(changes, up) })

	if st := m.Check(context.Background()); !st.Reachable || st.Error != "" {
		t.Fatalf("listening server reported %+v", st)
	}
	m.Check(context.Background())

	ln.Close()
	st := m.Check(context.Background())
	if st.Reachable || st.Error == "" {
		t.Fatalf("closed server reported %+v", st)
	}
	if got := m.Status(); got.Reachable || got.Addr != addr {
		t.Errorf("Status() = %+v", got)
	}

	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Errorf("changes = %v, want [true false]", changes)
	}
}

func TestMonitorDisabled(t *testing.T) {
	m := NewMonitor("127.0.0.1:1", 0, time.Second, nil)
	m.Start()
	m.Stop()
	if m.Status().Reachable {
		t.Error("disabled monitor reports reachable")
	}
}
