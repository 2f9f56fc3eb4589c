// Package transport connects the viewer to a producer over WebSocket.
// Binary frames carry msgpack commands inbound; replies and control events
// go back as text frames.
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/scenecast/scenecast/internal/logging"
)

const (
	sendChSize    = 1024
	inboundChSize = 4096
	writeWait     = 10 * time.Second
	maxBackoff    = 30 * time.Second
)

// ErrClosed is returned by Send after Close, or once reconnecting gave up.
var ErrClosed = errors.New("connection closed")

// Config holds the producer connection settings.
type Config struct {
	URL string
	// Reconnect redials with exponential backoff when the connection drops.
	Reconnect bool
	// MaxReconnect bounds the redial attempts per outage. Zero means 10.
	MaxReconnect int
	// Backoff is the first redial delay. Zero means one second.
	Backoff time.Duration
}

// Stats counts traffic since Dial.
type Stats struct {
	Received   int64
	Sent       int64
	Dropped    int64
	Reconnects int64
	Connected  bool
}

// Client is a producer connection with a single write goroutine and a
// single read goroutine per underlying socket.
type Client struct {
	cfg   Config
	log   zerolog.Logger
	noisy zerolog.Logger // per-frame events

	mu       sync.Mutex
	conn     *ws.Conn
	connDone chan struct{} // closed when conn is lost
	closed   bool
	gone     bool

	sendCh    chan []byte
	inbound   chan []byte
	done      chan struct{} // closed on Close
	readers   sync.WaitGroup
	closeOnce sync.Once

	received   atomic.Int64
	sent       atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

// Dial connects to the producer and starts the read and write loops.
func Dial(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	c := &Client{
		cfg:     cfg,
		log:     log.With().Str("component", "transport").Logger(),
		sendCh:  make(chan []byte, sendChSize),
		inbound: make(chan []byte, inboundChSize),
		done:    make(chan struct{}),
	}
	c.noisy = logging.Sampled(c.log)
	conn, err := c.dialOnce()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.attach(conn)
	c.mu.Unlock()
	c.log.Info().Str("url", cfg.URL).Msg("Connected to producer")
	return c, nil
}

func (c *Client) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// attach installs conn and starts its loops. c.mu must be held.
func (c *Client) attach(conn *ws.Conn) {
	c.conn = conn
	c.connDone = make(chan struct{})
	c.readers.Add(1)
	go c.readLoop(conn)
	go c.writeLoop(conn, c.connDone)
}

// Messages delivers inbound binary frames in arrival order. It is closed
// after Close, or when the connection is lost and not re-established.
func (c *Client) Messages() <-chan []byte { return c.inbound }

// Send queues data as a text frame. It never blocks; when the queue is
// full the message is dropped.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	unusable := c.closed || c.gone
	c.mu.Unlock()
	if unusable {
		return ErrClosed
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		c.dropped.Add(1)
		c.noisy.Warn().Msg("Send queue full, dropping message")
		return nil
	}
}

// Stats returns the traffic counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	return Stats{
		Received:   c.received.Load(),
		Sent:       c.sent.Load(),
		Dropped:    c.dropped.Load(),
		Reconnects: c.reconnects.Load(),
		Connected:  connected,
	}
}

func (c *Client) writeLoop(conn *ws.Conn, connDone chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-connDone:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.lost(conn, err)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.lost(conn, err)
				return
			}
			c.sent.Add(1)
		}
	}
}

func (c *Client) readLoop(conn *ws.Conn) {
	defer c.readers.Done()
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		if typ != ws.BinaryMessage {
			c.noisy.Debug().Int("len", len(msg)).Msg("Ignoring non-binary frame")
			continue
		}
		c.received.Add(1)
		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// lost handles a failed socket. Only the first report for the current
// socket acts; later ones from the sibling loop are ignored.
func (c *Client) lost(conn *ws.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(c.connDone)
	c.mu.Unlock()
	_ = conn.Close()

	if !c.cfg.Reconnect {
		c.log.Warn().Err(err).Msg("Producer connection lost")
		c.giveUp()
		return
	}
	c.log.Warn().Err(err).Msg("Producer connection lost, reconnecting")
	go c.reconnect()
}

// reconnect redials with exponential backoff and restarts the loops.
func (c *Client) reconnect() {
	backoff := c.cfg.Backoff
	for attempt := 1; attempt <= c.cfg.MaxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("Reconnect dial failed")
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.reconnects.Add(1)
		c.attach(conn)
		c.mu.Unlock()
		c.log.Info().Int("attempt", attempt).Msg("Reconnected to producer")
		return
	}
	c.log.Error().Int("maxAttempts", c.cfg.MaxReconnect).Msg("Reconnect failed after max attempts")
	c.giveUp()
}

// giveUp marks the client unusable and closes Messages once the last
// reader has exited. It may run on a reader goroutine.
func (c *Client) giveUp() {
	c.mu.Lock()
	c.gone = true
	c.mu.Unlock()
	go c.closeInbound()
}

func (c *Client) closeInbound() {
	c.closeOnce.Do(func() {
		c.readers.Wait()
		close(c.inbound)
	})
}

// Close sends a close frame, stops all goroutines and closes Messages.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = conn.Close()
	}
	c.closeInbound()
	return err
}
