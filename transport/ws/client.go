package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"worldsync"
	"worldsync/telemetry"
)

// ClientConfig tunes the dialing side. Zero fields use the package
// defaults.
type ClientConfig struct {
	Logger telemetry.Logger
	// WriteWait bounds each frame write.
	WriteWait time.Duration
	// MaxQueuedFrames bounds each inbound channel queue.
	MaxQueuedFrames int
}

// Client is the dialing end, exposed as a worldsync.ClientTransport.
type Client struct {
	ws        *websocket.Conn
	log       telemetry.Logger
	writeWait time.Duration
	maxQueued int

	id             worldsync.ClientID
	serverChannels int

	writeMu sync.Mutex

	mu        sync.Mutex
	queues    map[worldsync.ChannelID][][]byte
	connected bool
}

// Dial connects, verifies the handshake against the local protocol and
// starts the reader. A version or channel table mismatch is returned
// as an error and the connection is closed.
func Dial(ctx context.Context, url string, channels *worldsync.NetworkChannels, cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.MaxQueuedFrames <= 0 {
		cfg.MaxQueuedFrames = defaultMaxQueuedFrames
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn.SetReadDeadline(time.Now().Add(defaultWriteWait))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		conn.Close()
		return nil, fmt.Errorf("handshake is not a binary message")
	}
	h, err := decodeHello(data)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if h.version != ProtocolVersion {
		conn.Close()
		return nil, fmt.Errorf("protocol version mismatch: server %d, client %d", h.version, ProtocolVersion)
	}
	serverChannels := len(channels.ServerChannels())
	clientChannels := len(channels.ClientChannels())
	if int(h.serverChannels) != serverChannels || int(h.clientChannels) != clientChannels {
		conn.Close()
		return nil, fmt.Errorf("channel table mismatch: server %d/%d, client %d/%d",
			h.serverChannels, h.clientChannels, serverChannels, clientChannels)
	}
	conn.SetReadDeadline(time.Time{})

	c := &Client{
		ws:             conn,
		log:            cfg.Logger,
		writeWait:      cfg.WriteWait,
		maxQueued:      cfg.MaxQueuedFrames,
		id:             h.client,
		serverChannels: serverChannels,
		queues:         make(map[worldsync.ChannelID][][]byte),
		connected:      true,
	}
	go c.readLoop()
	return c, nil
}

// ID returns the client id the server assigned during the handshake,
// e.g. to target BroadcastExcept at yourself.
func (c *Client) ID() worldsync.ClientID { return c.id }

func (c *Client) readLoop() {
	defer c.markDisconnected()
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage || len(data) < 1 {
			c.log.Printf("discarding malformed message from server")
			continue
		}
		ch := worldsync.ChannelID(data[0])
		if int(ch) >= c.serverChannels {
			c.log.Printf("discarding frame on unknown channel %d", ch)
			continue
		}
		payload := append([]byte(nil), data[1:]...)
		c.mu.Lock()
		q := c.queues[ch]
		if len(q) >= c.maxQueued {
			q = q[1:]
		}
		c.queues[ch] = append(q, payload)
		c.mu.Unlock()
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.ws.Close()
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Send(ch worldsync.ChannelID, frame []byte) {
	if !c.Connected() {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, encodeFrame(ch, frame)); err != nil {
		c.log.Printf("send failed: %v", err)
		c.markDisconnected()
	}
}

func (c *Client) TryReceive(ch worldsync.ChannelID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queues[ch]
	if len(q) == 0 {
		return nil, false
	}
	frame := q[0]
	c.queues[ch] = q[1:]
	return frame, true
}

// Close tears the connection down; Connected turns false once the
// reader notices.
func (c *Client) Close() {
	c.markDisconnected()
}

var _ worldsync.ClientTransport = (*Client)(nil)
