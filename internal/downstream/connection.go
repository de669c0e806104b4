package downstream

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// CloseSlowConsumer is the application-level close code used when a
// connection's send queue overflows its bound (spec.md §4.4, §8). It
// sits in the private-use range (4000-4999) reserved by RFC 6455 so a
// client can distinguish it from a normal 1000/1001 clean close and
// knows to reconnect rather than treat it as a user-initiated close.
const CloseSlowConsumer = 4008

// Connection is the thin WebSocket transport object: it owns the raw
// net.Conn and the outbound send queue, nothing about session state.
// A Connection is bound to exactly one Session for its lifetime; the
// Session (internal/session) owns subscriptions, alerts and trades.
//
// Mirrors the teacher's Client struct, stripped of the fields that
// belonged to session state (subscriptions, replay buffer) since that
// state now lives one layer up in Session.
type Connection struct {
	id        int64
	conn      net.Conn
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// ConnectionPool recycles Connection objects across WebSocket
// upgrades, matching the teacher's sync.Pool-backed ConnectionPool.
type ConnectionPool struct {
	pool sync.Pool
}

func NewConnectionPool(sendQueueDepth int) *ConnectionPool {
	return &ConnectionPool{
		pool: sync.Pool{
			New: func() any {
				return &Connection{send: make(chan []byte, sendQueueDepth)}
			},
		},
	}
}

func (p *ConnectionPool) Get(id int64, conn net.Conn) *Connection {
	c := p.pool.Get().(*Connection)
	c.id = id
	c.conn = conn
	c.closeOnce = sync.Once{}
	c.closed = make(chan struct{})
	for {
		select {
		case <-c.send:
		default:
			return c
		}
	}
}

func (p *ConnectionPool) Put(c *Connection) {
	if c == nil {
		return
	}
	c.conn = nil
	p.pool.Put(c)
}

// Send enqueues a frame for the write pump. It never blocks: on a full
// queue the frame is not enqueued and Send returns false. Session's
// pushFrame treats false as a slow consumer and closes the connection
// with CloseSlowConsumer.
func (c *Connection) Send(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close closes the underlying connection exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// CloseWithCode sends a WebSocket close frame carrying code and reason
// before tearing down the transport, exactly once. Used for the
// slow-consumer disconnect spec.md §4.4 and §8 require: the client
// sees a distinct, non-clean close code and knows to reconnect.
func (c *Connection) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
			c.conn.Close()
		}
	})
}
