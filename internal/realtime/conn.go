package realtime

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport defaults.
const (
	DefaultURL              = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"
	DefaultBetaHeader       = "realtime=v1"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultCloseGracePeriod = 2 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024
)

// ErrConnClosed is returned by Send and Read once the connection is closed.
var ErrConnClosed = errors.New("realtime connection closed")

// Conn is an established duplex connection carrying text messages.
type Conn interface {
	// Send writes one message. Safe for concurrent use.
	Send(data []byte) error

	// Read blocks for the next message. Only one goroutine may read.
	Read() ([]byte, error)

	// Close sends a close frame within the grace period and releases the
	// connection. Safe to call more than once.
	Close() error
}

// Dialer opens connections to the realtime endpoint.
type Dialer interface {
	Dial(ctx context.Context, header http.Header) (Conn, error)
}

// AuthHeader builds the handshake headers for a bearer credential.
func AuthHeader(apiKey, betaHeader string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+apiKey)
	if betaHeader != "" {
		h.Set("OpenAI-Beta", betaHeader)
	}
	return h
}

// DialConfig configures WSDialer.
type DialConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	CloseGracePeriod time.Duration
	MaxMessageSize   int64
}

func (c *DialConfig) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
}

// WSDialer dials the endpoint over WebSocket.
type WSDialer struct {
	cfg    DialConfig
	logger *zap.Logger
}

// NewWSDialer creates a dialer, filling unset fields with defaults.
func NewWSDialer(cfg DialConfig, logger *zap.Logger) *WSDialer {
	cfg.defaults()
	return &WSDialer{cfg: cfg, logger: logger}
}

// Dial performs the handshake. It is bounded by both ctx and the handshake
// timeout.
func (d *WSDialer) Dial(ctx context.Context, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	d.logger.Debug("Dialing realtime endpoint", zap.String("url", d.cfg.URL))

	conn, resp, err := dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil, fmt.Errorf("failed to connect (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	conn.SetReadLimit(d.cfg.MaxMessageSize)

	return &wsConn{
		conn:             conn,
		writeWait:        d.cfg.WriteWait,
		closeGracePeriod: d.cfg.CloseGracePeriod,
	}, nil
}

type wsConn struct {
	conn             *websocket.Conn
	writeWait        time.Duration
	closeGracePeriod time.Duration

	mu      sync.Mutex
	writeMu sync.Mutex // gorilla allows one concurrent writer
	closed  bool
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %w", ErrConnClosed, err)
			}
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.closeGracePeriod))
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	c.writeMu.Unlock()

	return c.conn.Close()
}
