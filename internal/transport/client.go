package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config holds the transport's connection parameters. The handshake
// carries an invite code (PI_CONNECT, §6); reconnection, envelope
// framing and that handshake are the adapter's job, not the engine's.
type Config struct {
	URL            string
	DeviceID       string
	InviteCode     string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
}

// DefaultConfig returns sane reconnect/keepalive defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
	}
}

// Client is the websocket adapter between the cloud and the engine's
// command surface. It decodes inbound envelopes to typed commands via
// Handler and serializes outbound Envelopes back to the wire.
type Client struct {
	config   Config
	handler  Handler
	sendChan chan *Envelope
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// Handler is implemented by the engine's dispatcher: it is given each
// decoded inbound envelope and returns nothing. Every outbound envelope,
// immediate responses as well as progress events and terminal results,
// goes back through Client.Send, since a single inbound command can
// produce many outbound messages over time.
type Handler interface {
	Handle(ctx context.Context, env *Envelope)
}

// New constructs a Client bound to handler.
func New(config Config, handler Handler) *Client {
	return &Client{
		config:   config,
		handler:  handler,
		sendChan: make(chan *Envelope, 256),
		stopChan: make(chan struct{}),
	}
}

// Start connects to the cloud and runs the read/write/ping loops with
// automatic reconnection until Stop is called or ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// Stop disconnects and waits for all loops to exit.
func (c *Client) Stop() error {
	close(c.stopChan)
	c.wg.Wait()
	return nil
}

// IsConnected reports whether the websocket is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send queues env for delivery to the cloud. Non-blocking: a full queue
// reports an error rather than stalling the caller (the irrigation
// algorithm's progress sink must never block on transport backpressure).
func (c *Client) Send(env *Envelope) error {
	if env.DeviceID == "" {
		env.DeviceID = c.config.DeviceID
	}
	select {
	case c.sendChan <- env:
		return nil
	default:
		return fmt.Errorf("transport send queue full")
	}
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			c.disconnect()
			return
		case <-ctx.Done():
			c.disconnect()
			return
		default:
		}

		if err := c.connect(); err != nil {
			log.Printf("transport: connect failed: %v", err)
			time.Sleep(c.config.ReconnectDelay)
			continue
		}

		c.runMessageLoops(ctx)

		log.Println("transport: disconnected, reconnecting...")
		time.Sleep(c.config.ReconnectDelay)
	}
}

func (c *Client) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	log.Printf("transport: connected to %s", c.config.URL)

	connectEnv, err := NewEnvelope(TypePiConnect, c.config.DeviceID, map[string]string{"invite_code": c.config.InviteCode})
	if err == nil {
		_ = c.Send(connectEnv)
	}
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

func (c *Client) runMessageLoops(ctx context.Context) {
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() { defer wg.Done(); c.readLoop(ctx, done) }()

	wg.Add(1)
	go func() { defer wg.Done(); c.writeLoop(ctx, done) }()

	wg.Add(1)
	go func() { defer wg.Done(); c.pingLoop(done) }()

	wg.Wait()
}

func (c *Client) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("transport: read error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("transport: failed to parse envelope: %v", err)
			continue
		}
		c.handler.Handle(ctx, &env)
	}
}

func (c *Client) writeLoop(ctx context.Context, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case env := <-c.sendChan:
			c.writeEnvelope(env)
		}
	}
}

func (c *Client) writeEnvelope(env *Envelope) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("transport: failed to marshal envelope: %v", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("transport: write error: %v", err)
	}
}

func (c *Client) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				log.Printf("transport: ping failed: %v", err)
				return
			}
		}
	}
}
