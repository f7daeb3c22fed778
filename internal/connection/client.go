package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Client is one websocket connection. A Client is used for a single
// connection generation and is not reusable after it ends.
type Client interface {
	// Connect dials the stream endpoint and starts reading.
	Connect(ctx context.Context) error

	// Close ends the connection. Err stays nil after a Close.
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// SendJSON encodes v and writes it as one text frame.
	SendJSON(v any) error

	// Frames delivers inbound frames in arrival order.
	Frames() <-chan Inbound

	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}

	// Err reports why the connection ended. Nil while open or after Close.
	Err() error

	// IsConnected reports whether the connection is open.
	IsConnected() bool
}

type clientState int

const (
	clientIdle clientState = iota
	clientOpen
	clientEnded
)

type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	frames chan Inbound
	done   chan struct{}

	mu      sync.Mutex
	state   clientState
	closing bool
	err     error
}

// NewClient creates an unconnected client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}
	return &client{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Inbound, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	switch state {
	case clientEnded:
		return ErrAlreadyClosed
	case clientOpen:
		return errors.New("already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == clientEnded {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.state = clientOpen
	c.mu.Unlock()

	// Control frames count as activity for stale detection.
	conn.SetPingHandler(func(data string) error {
		c.extendReadDeadline()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.pingLoop()
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	if c.state == clientEnded {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
	}
	return c.end(nil)
}

func (c *client) Send(data []byte) error {
	c.mu.Lock()
	if c.state != clientOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return c.Send(data)
}

func (c *client) Frames() <-chan Inbound { return c.frames }

func (c *client) Done() <-chan struct{} { return c.done }

func (c *client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == clientOpen
}

// end marks the connection finished with cause err. Only the first call has
// any effect.
func (c *client) end(err error) error {
	c.mu.Lock()
	if c.state == clientEnded {
		c.mu.Unlock()
		return nil
	}
	c.state = clientEnded
	c.err = err
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *client) extendReadDeadline() {
	if c.cfg.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}

// readLoop forwards frames until the connection fails. A full frame buffer
// ends the connection instead of dropping a frame, so consumers never see a
// gap within one generation.
func (c *client) readLoop() {
	for {
		c.extendReadDeadline()
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.end(c.readError(err))
			return
		}

		select {
		case c.frames <- Inbound{Data: data, ReceivedAt: time.Now()}:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping connection", "buffer", cap(c.frames))
			c.end(ErrBackpressure)
			return
		}
	}
}

func (c *client) readError(err error) error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.logger.Warn("no frames received, connection stale", "timeout", c.cfg.ReadTimeout)
		return ErrStaleConnection
	}
	return err
}

// pingLoop sends keepalive pings so an idle but healthy connection keeps
// producing pongs.
func (c *client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(max(c.cfg.WriteTimeout, time.Second)))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				c.end(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
