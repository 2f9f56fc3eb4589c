package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// producer is a test server that hands each accepted socket to serve and
// records the text frames it receives.
type producer struct {
	*httptest.Server

	mu      sync.Mutex
	texts   []string
	accepts int
}

func newProducer(t *testing.T, serve func(p *producer, n int, c *ws.Conn)) *producer {
	t.Helper()
	p := &producer{}
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()
		p.mu.Lock()
		p.accepts++
		n := p.accepts
		p.mu.Unlock()
		serve(p, n, c)
	}))
	t.Cleanup(p.Close)
	return p
}

// readTexts records text frames until the socket fails.
func (p *producer) readTexts(c *ws.Conn) {
	for {
		typ, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		if typ == ws.TextMessage {
			p.mu.Lock()
			p.texts = append(p.texts, string(msg))
			p.mu.Unlock()
		}
	}
}

func (p *producer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

func (p *producer) url() string {
	return "ws" + strings.TrimPrefix(p.URL, "http")
}

func next(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "messages closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func waitClosed(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Messages():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("messages never closed")
		}
	}
}

func TestClient_ReceiveAndSend(t *testing.T) {
	p := newProducer(t, func(p *producer, _ int, c *ws.Conn) {
		_ = c.WriteMessage(ws.TextMessage, []byte("ignored"))
		_ = c.WriteMessage(ws.BinaryMessage, []byte{0x81, 0xa4})
		_ = c.WriteMessage(ws.BinaryMessage, []byte{0x01})
		p.readTexts(c)
	})

	c, err := Dial(Config{URL: p.url()}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []byte{0x81, 0xa4}, next(t, c))
	assert.Equal(t, []byte{0x01}, next(t, c))

	require.NoError(t, c.Send([]byte(`{"type":"img"}`)))
	assert.Eventually(t, func() bool { return len(p.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"type":"img"}`, p.received()[0])

	st := c.Stats()
	assert.Equal(t, int64(2), st.Received)
	assert.True(t, st.Connected)
	assert.Eventually(t, func() bool { return c.Stats().Sent == 1 }, time.Second, 10*time.Millisecond)
}

func TestClient_Close(t *testing.T) {
	p := newProducer(t, func(p *producer, _ int, c *ws.Conn) { p.readTexts(c) })

	c, err := Dial(Config{URL: p.url(), Reconnect: true}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")

	waitClosed(t, c)
	assert.ErrorIs(t, c.Send([]byte("x")), ErrClosed)
	assert.False(t, c.Stats().Connected)
}

func TestClient_LostWithoutReconnect(t *testing.T) {
	p := newProducer(t, func(_ *producer, _ int, c *ws.Conn) {
		_ = c.WriteMessage(ws.BinaryMessage, []byte{0x02})
	})

	c, err := Dial(Config{URL: p.url()}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []byte{0x02}, next(t, c))
	waitClosed(t, c)
	assert.ErrorIs(t, c.Send([]byte("x")), ErrClosed)
}

func TestClient_Reconnect(t *testing.T) {
	p := newProducer(t, func(p *producer, n int, c *ws.Conn) {
		_ = c.WriteMessage(ws.BinaryMessage, []byte{byte(n)})
		if n == 1 {
			return
		}
		p.readTexts(c)
	})

	c, err := Dial(Config{URL: p.url(), Reconnect: true, Backoff: 10 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []byte{1}, next(t, c))
	assert.Equal(t, []byte{2}, next(t, c), "second socket delivers after redial")
	assert.Equal(t, int64(1), c.Stats().Reconnects)

	require.NoError(t, c.Send([]byte("after")))
	assert.Eventually(t, func() bool { return len(p.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ReconnectGivesUp(t *testing.T) {
	p := newProducer(t, func(*producer, int, *ws.Conn) {})

	c, err := Dial(Config{URL: p.url(), Reconnect: true, MaxReconnect: 2, Backoff: 5 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	// the producer drops every socket right away and then disappears
	p.Close()
	waitClosed(t, c)
	assert.ErrorIs(t, c.Send([]byte("x")), ErrClosed)
}

func TestDial_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"malformed", "ws://[::1"},
		{"refused", "ws://127.0.0.1:1/"},
		{"wrong scheme", "ftp://example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Dial(Config{URL: tt.url}, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}
