package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/chatsync/src/types"
)

// WebsocketDialer dials the chat server over WebSocket.
type WebsocketDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

var _ Dialer = (*WebsocketDialer)(nil)

// NewWebsocketDialer creates a dialer advertising the STOMP subprotocols.
func NewWebsocketDialer(writeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		},
		writeTimeout: writeTimeout,
	}
}

// Dial opens a WebSocket to serverURL.
func (d *WebsocketDialer) Dial(ctx context.Context, serverURL string) (types.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &websocketConn{conn: conn, writeTimeout: d.writeTimeout}, nil
}

// websocketConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type websocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *websocketConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) Close() error { return c.conn.Close() }
