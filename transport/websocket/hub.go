package websocket

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/wricardo/wsnexus/metrics"
	"github.com/wricardo/wsnexus/relay/liveness"
	"github.com/wricardo/wsnexus/relay/registry"
	"github.com/wricardo/wsnexus/relay/router"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time the peer gets to answer our close frame before the socket is dropped.
	closeGracePeriod = time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024

	// Outbound frames buffered per socket before it is considered stuck.
	sendBufferSize = 256

	ReasonShutdown = "Server shutting down"
)

type inbound struct {
	conn *Conn
	data []byte
}

// Hub owns every relay socket and runs the single event loop that feeds them
// to the router
type Hub struct {
	router  *router.Router
	monitor *liveness.Monitor
	metrics *metrics.Relay

	// Connections by socket; only touched by Run.
	conns map[*Conn]*router.Connection

	// Register requests from ServeWS
	register chan *Conn

	// Unregister requests from read pumps
	unregister chan *Conn

	// Inbound frames from read pumps
	inbound chan inbound

	upgrader       websocket.Upgrader
	maxMessageSize int64
	pingInterval   time.Duration

	active atomic.Int64
	done   chan struct{}
}

// Option customizes a Hub
type Option func(*Hub)

func WithMetrics(m *metrics.Relay) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithPingInterval sets the liveness heartbeat period
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingInterval = d }
}

func WithMaxMessageSize(n int64) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessageSize = n
		}
	}
}

// NewHub creates a hub routing frames against reg
func NewHub(reg *registry.Registry, opts ...Option) *Hub {
	h := &Hub{
		conns:          make(map[*Conn]*router.Connection),
		register:       make(chan *Conn),
		unregister:     make(chan *Conn),
		inbound:        make(chan inbound),
		maxMessageSize: defaultMaxMessageSize,
		pingInterval:   liveness.DefaultInterval,
		done:           make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Peers are browsers and tools on arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.Noop()
	}

	h.router = router.New(reg, h.metrics)
	h.monitor = liveness.NewMonitor(h.pingInterval)
	h.monitor.OnTerminate = func(liveness.Target) { h.metrics.LivenessTermination() }
	return h
}

// Run is the hub's event loop. When ctx ends every socket is closed with 1001
// and Run returns once their close frames are flushed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go h.monitor.Run(monitorCtx)

	for {
		select {
		case c := <-h.register:
			h.registerConn(c)

		case c := <-h.unregister:
			h.unregisterConn(c)

		case in := <-h.inbound:
			h.handleFrame(in)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Done is closed when Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Len returns the number of open sockets
func (h *Hub) Len() int {
	return int(h.active.Load())
}

// ServeWS upgrades the request and hands the socket to the event loop
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %s", err)
		return
	}

	c := newConn(h, ws)
	c.log = c.log.WithField("remote", r.RemoteAddr)

	select {
	case h.register <- c:
	case <-h.done:
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ReasonShutdown),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) registerConn(c *Conn) {
	h.active.Add(1)
	h.metrics.ConnectionOpened()
	h.monitor.Track(c)

	h.guard(c, func() {
		h.conns[c] = h.router.Accept(c)
	})
	c.log.Debug("connection registered")
}

func (h *Hub) unregisterConn(c *Conn) {
	conn, ok := h.conns[c]
	if !ok {
		return
	}
	delete(h.conns, c)
	h.monitor.Untrack(c)
	c.finish()

	h.guard(c, conn.HandleClose)

	h.active.Add(-1)
	h.metrics.ConnectionClosed()
	c.log.Debug("connection unregistered")
}

func (h *Hub) handleFrame(in inbound) {
	conn, ok := h.conns[in.conn]
	if !ok {
		return
	}
	h.guard(in.conn, func() {
		conn.HandleFrame(in.data)
	})
}

// guard keeps a failure while handling one socket from taking down the loop
func (h *Hub) guard(c *Conn, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("recovered from panic: %v", r)
			_ = c.Terminate()
		}
	}()
	fn()
}

func (h *Hub) closeAll() {
	log.Infof("closing %d connections", len(h.conns))

	for c := range h.conns {
		_ = c.Close(websocket.CloseGoingAway, ReasonShutdown)
	}

	// Role cleanup after the shutdown close so clients keep the shutdown reason.
	for c, conn := range h.conns {
		h.monitor.Untrack(c)
		h.guard(c, conn.HandleClose)
	}

	deadline := time.NewTimer(closeGracePeriod + writeWait)
	defer deadline.Stop()
	for c := range h.conns {
		select {
		case <-c.flushed:
		case <-deadline.C:
			log.Warn("timed out flushing close frames")
			return
		}
	}
}
