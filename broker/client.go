// Package broker is the in-memory signaling router described in spec.md
// §4.1: it holds the streamId→broadcaster map and the viewerId→viewer map,
// forwards offer/answer/ice-candidate traffic between exactly the right
// sockets, buffers one pending offer per not-yet-ready viewer, and detects
// dead peers with ping/pong liveness. Grounded on the verawat1234-tchat
// SignalingService (client/room maps, per-client Send channel, ping-ticker
// writer goroutine, pong-deadline reader goroutine) and on the teacher's
// gorilla/websocket usage (the teacher only ever drove a single raw
// websocket per viewer; this package generalizes that to the broker's
// client/room bookkeeping).
package broker

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second
	writeWait      = 10 * time.Second
	pendingOfferTTL = 10 * time.Second

	// maxViolations bounds how many malformed-JSON or unknown-type messages
	// a socket may send before the broker closes it, per spec.md §7: "log
	// and drop; the offending socket is NOT closed unless it repeats."
	maxViolations = 5
)

// role is assigned by the first role-bearing message on a socket and never
// changes thereafter (spec.md §4.1, "State machine per socket").
type role int

const (
	roleUnknown role = iota
	roleBroadcaster
	roleViewer
)

// client wraps one signaling WebSocket connection with the bookkeeping the
// broker needs regardless of which role it turns out to play.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	role       role
	streamID   string
	viewerID   string
	ready      bool
	closed     bool
	violations int
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
}

// enqueue is the non-blocking signaling send spec.md §4.1 and §7 require:
// "a send failure logs and drops that message but never propagates an
// exception to unrelated clients." A full buffer or an already closed socket
// counts as a send failure.
func (c *client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		log.Printf("broker: socket closed, dropping outbound message")
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		log.Printf("broker: send buffer full, dropping outbound message")
		return false
	}
}

// recordViolation counts one malformed-JSON or unknown-message-type
// offense and reports whether c has now crossed maxViolations, the signal
// to close the socket rather than keep logging and dropping forever.
func (c *client) recordViolation() bool {
	c.mu.Lock()
	c.violations++
	exceeded := c.violations >= maxViolations
	c.mu.Unlock()
	return exceeded
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
