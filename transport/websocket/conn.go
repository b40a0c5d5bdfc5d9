package websocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/wricardo/wsnexus/relay/protocol"
)

var (
	ErrClosing      = errors.New("connection is closing")
	ErrSendOverflow = errors.New("send buffer full")
)

type closeFrame struct {
	code   int
	reason string
}

// Conn is one relay socket. Send and Close only enqueue; writePump owns the writes.
type Conn struct {
	id  string
	hub *Hub
	ws  *websocket.Conn
	log *log.Entry

	send     chan []byte
	closeReq chan closeFrame
	closing  atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
	flushed  chan struct{}
}

func newConn(h *Hub, ws *websocket.Conn) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:       id,
		hub:      h,
		ws:       ws,
		log:      log.WithField("conn_id", id),
		send:     make(chan []byte, sendBufferSize),
		closeReq: make(chan closeFrame, 1),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues a frame. A socket that cannot keep up is dropped.
func (c *Conn) Send(m protocol.Message) error {
	if c.closing.Load() {
		return ErrClosing
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosing
	default:
		c.log.Warn("send buffer full, dropping connection")
		_ = c.Terminate()
		return ErrSendOverflow
	}
}

// Close starts the close handshake. Closing a socket that is already closing is a no-op.
func (c *Conn) Close(code int, reason string) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.closeReq <- closeFrame{code: code, reason: reason}
	return nil
}

// Ping writes a heartbeat; WriteControl may run alongside writePump.
func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Terminate drops the transport without a handshake and stops writePump
func (c *Conn) Terminate() error {
	c.closing.Store(true)
	c.finish()
	return c.ws.Close()
}

func (c *Conn) Closed() bool {
	if c.closing.Load() {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readPump pumps frames from the WebSocket connection to the hub
func (c *Conn) readPump() {
	h := c.hub
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(h.maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		h.monitor.Pong(c)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Debugf("read: %s", err)
			}
			return
		}

		select {
		case h.inbound <- inbound{conn: c, data: data}:
		case <-h.done:
			return
		}
	}
}

// writePump pumps queued frames from the hub to the WebSocket connection
func (c *Conn) writePump() {
	defer close(c.flushed)

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.log.Debugf("write: %s", err)
				_ = c.Terminate()
				return
			}

		case cf := <-c.closeReq:
			c.flush()
			msg := websocket.FormatCloseMessage(cf.code, cf.reason)
			if err := c.write(websocket.CloseMessage, msg); err != nil {
				_ = c.Terminate()
				return
			}
			time.AfterFunc(closeGracePeriod, func() { _ = c.ws.Close() })
			return

		case <-c.done:
			return
		}
	}
}

// flush writes whatever was queued before the close request
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}
