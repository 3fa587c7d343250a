package forward

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/daniellavrushin/httpcopy/log"
)

// TargetStatus is the last reachability check of the test server.
type TargetStatus struct {
	Addr      string    `json:"addr"`
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// Monitor periodically dials the test server so an outage shows up in
// health output before captures start landing in forward_failed/.
type Monitor struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	onChange func(up bool)

	// Dial overrides net.Dialer, for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	mu     sync.RWMutex
	status TargetStatus
	probed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor returns a monitor for addr. onChange, if set, is called after
// every check whose result differs from the previous one.
func NewMonitor(addr string, interval, timeout time.Duration, onChange func(up bool)) *Monitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Monitor{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		onChange: onChange,
		status:   TargetStatus{Addr: addr},
		stop:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	if m.interval <= 0 {
		log.Infof("Test server monitor disabled")
		return
	}

	m.wg.Add(1)
	go m.monitorLoop()
	log.Infof("Started test server monitor (%s every %v)", m.addr, m.interval)
}

func (m *Monitor) Stop() {
	if m.interval <= 0 {
		return
	}
	close(m.stop)
	m.wg.Wait()
	log.Infof("Stopped test server monitor")
}

func (m *Monitor) Status() TargetStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) monitorLoop() {
	defer m.wg.Done()

	m.Check(context.Background())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Check(context.Background())
		}
	}
}

// Check dials the test server once and records the result.
func (m *Monitor) Check(ctx context.Context) TargetStatus {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	dial := m.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	st := TargetStatus{Addr: m.addr, CheckedAt: time.Now()}
	conn, err := dial(ctx, "tcp", m.addr)
	if err != nil {
		st.Error = err.Error()
	} else {
		conn.Close()
		st.Reachable = true
	}

	m.mu.Lock()
	changed := !m.probed || m.status.Reachable != st.Reachable
	m.status = st
	m.probed = true
	m.mu.Unlock()

	if changed {
		if st.Reachable {
			log.Infof("Test server %s is reachable", m.addr)
		} else {
			log.Warnf("Test server %s is unreachable: %v", m.addr, err)
		}
		if m.onChange != nil {
			m.onChange(st.Reachable)
		}
	}
	return st
}
