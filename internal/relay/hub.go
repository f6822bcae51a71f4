package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// readWait must exceed the client ping interval or healthy
	// connections get reaped.
	readWait = 60 * time.Second

	sendQueue = 64
)

// client is one websocket connection inside a room.
type client struct {
	conn *websocket.Conn
	send chan []byte

	// userID is set once the peer announces itself.
	userID string
}

// outbound is a fanout unit. from is skipped during delivery so local
// senders never hear their own message back; nil from reaches everyone.
type outbound struct {
	from *client
	data []byte
}

// hub owns the client set of one room. All membership changes and
// deliveries run on the single run loop; the accessors below stay
// non-blocking across shutdown so pumps can always finish.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan outbound
	done       chan struct{}
	finished   chan struct{}
	stopOnce   sync.Once
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound),
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

func (h *hub) run() {
	defer close(h.finished)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			h.drop(c)
		case out := <-h.broadcast:
			for c := range h.clients {
				if c == out.from {
					continue
				}
				select {
				case c.send <- out.data:
				default:
					// A reader this far behind is dead weight.
					h.drop(c)
				}
			}
		case <-h.done:
			for c := range h.clients {
				c.conn.Close()
			}
			// Serve the pumps of the connections just closed until
			// every one has unregistered.
			for len(h.clients) > 0 {
				select {
				case c := <-h.unregister:
					h.drop(c)
				case <-h.broadcast:
				}
			}
			return
		}
	}
}

func (h *hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// add registers a connection, or closes it when the hub is stopping.
func (h *hub) add(c *client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.conn.Close()
	}
}

// remove hands the connection back to the run loop. The run loop or
// its shutdown drain serves it; once the loop has finished the client
// is already out of the set.
func (h *hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.finished:
	}
}

// cast delivers to the room without ever blocking a dying hub.
func (h *hub) cast(out outbound) {
	select {
	case h.broadcast <- out:
	case <-h.finished:
	}
}

// writePump drains the client's send queue onto the wire. Closing the
// queue sends a close frame and ends the pump.
func (c *client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
