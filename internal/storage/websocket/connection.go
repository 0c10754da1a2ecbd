package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/trailerlab/trailerd/pkg/streaming"
)

const (
	outboxSize   = 10_000
	ackQueueSize = 16
	maxRedials   = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// conn owns one WebSocket session: a single writer goroutine draining the
// outbox, a reader routing server acks, and redial with replay of the
// start_run envelope so the viewer server can re-associate the stream.
type conn struct {
	mu     sync.Mutex
	ws     *ws.Conn
	closed bool

	outbox chan []byte
	acks   chan streaming.AckMessage
	quit   chan struct{}

	endpoint string
	secret   string
	replay   []byte

	log *slog.Logger
}

func newConn(log *slog.Logger) *conn {
	return &conn{
		outbox: make(chan []byte, outboxSize),
		acks:   make(chan streaming.AckMessage, ackQueueSize),
		quit:   make(chan struct{}),
		log:    log,
	}
}

// open dials the server and starts the reader and writer goroutines.
func (c *conn) open(endpoint, secret string) error {
	c.endpoint = endpoint
	c.secret = secret

	socket, err := c.dial()
	if err != nil {
		return err
	}
	c.swap(socket)

	go c.writer()
	go c.reader()
	return nil
}

// dial performs one connection attempt, carrying the shared secret as a
// query parameter.
func (c *conn) dial() (*ws.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	socket, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return socket, nil
}

func (c *conn) swap(socket *ws.Conn) {
	c.mu.Lock()
	c.ws = socket
	c.mu.Unlock()
}

func (c *conn) current() *ws.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// setReplay stores the envelope to resend after a redial, typically the
// start_run message of the active run.
func (c *conn) setReplay(data []byte) {
	c.mu.Lock()
	c.replay = data
	c.mu.Unlock()
}

func (c *conn) clearReplay() {
	c.setReplay(nil)
}

// writeFrame writes one text frame under the write deadline.
func writeFrame(socket *ws.Conn, data []byte) error {
	if err := socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return socket.WriteMessage(ws.TextMessage, data)
}

// writer drains the outbox onto the socket. It exits on shutdown or on the
// first write error, which hands the session to redial.
func (c *conn) writer() {
	for {
		select {
		case <-c.quit:
			return
		case data := <-c.outbox:
			socket := c.current()
			if socket == nil {
				continue
			}
			if err := writeFrame(socket, data); err != nil {
				c.log.Warn("WebSocket write error", "error", err)
				go c.redial()
				return
			}
		}
	}
}

// reader routes server acks onto the ack queue. Anything that does not parse
// as an ack is logged and skipped.
func (c *conn) reader() {
	for {
		socket := c.current()
		if socket == nil {
			return
		}

		_, message, err := socket.ReadMessage()
		if err != nil {
			select {
			case <-c.quit:
				return
			default:
			}
			c.log.Warn("WebSocket read error", "error", err)
			go c.redial()
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			c.log.Debug("Non-ack message received", "raw", string(message))
			continue
		}

		select {
		case c.acks <- ack:
		default:
			c.log.Debug("Ack queue full, dropping", "for", ack.For)
		}
	}
}

// redial re-establishes the session with exponential backoff, replays the
// cached start_run envelope, and restarts the reader and writer.
func (c *conn) redial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.mu.Unlock()

	backoff := time.Second
	for attempt := 1; attempt <= maxRedials; attempt++ {
		select {
		case <-c.quit:
			return
		default:
		}

		c.log.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}

		socket, err := c.dial()
		if err != nil {
			c.log.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		c.ws = socket
		replay := c.replay
		c.mu.Unlock()

		if replay != nil {
			if err := writeFrame(socket, replay); err != nil {
				c.log.Warn("Failed to replay start_run after reconnect", "error", err)
				_ = socket.Close()
				continue
			}
		}

		c.log.Info("WebSocket reconnected", "attempt", attempt)
		go c.writer()
		go c.reader()
		return
	}

	c.log.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxRedials)
}

// send queues data for the writer. Frames are dropped rather than blocking
// the simulation loop when the outbox is full.
func (c *conn) send(data []byte) {
	select {
	case c.outbox <- data:
	default:
		c.log.Warn("WebSocket outbox full, dropping message")
	}
}

// sendAndWait queues data and blocks until the server acks the given message
// type or the timeout expires.
func (c *conn) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.quit:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a close frame and stops the session goroutines. Safe to call
// more than once.
func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.quit)
	socket := c.ws
	c.ws = nil
	c.mu.Unlock()

	if socket != nil {
		_ = socket.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return socket.Close()
	}
	return nil
}
