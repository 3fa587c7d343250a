package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// historySize is how many recent lines a new subscriber receives first.
	historySize = 200
	sendBuffer  = 256
)

// LogHub fans log lines out to websocket subscribers and keeps a short
// history for late joiners.
type LogHub struct {
	mu      sync.RWMutex
	clients map[*logClient]struct{}
	history [][]byte
	next    int

	in    chan []byte
	reg   chan *logClient
	unreg chan *logClient
	stop  chan struct{}
	done  chan struct{}
}

// The status server binds to loopback by default, so any origin may
// subscribe.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
