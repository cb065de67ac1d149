package connection

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/orchestra-mcp/chatsync/src/stomp"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/stretchr/testify/require"
)

var errClosed = errors.New("fake conn closed")

// fakeConn plays the server side of a STOMP session in memory.
type fakeConn struct {
	in        chan []byte
	heartBeat string
	reject    bool

	mu         sync.Mutex
	frames     []*stomp.Frame
	heartbeats int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(heartBeat string, reject bool) *fakeConn {
	return &fakeConn{
		in:        make(chan []byte, 64),
		heartBeat: heartBeat,
		reject:    reject,
		closed:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	f, err := stomp.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if f == nil {
		c.heartbeats++
	} else {
		c.frames = append(c.frames, f)
	}
	c.mu.Unlock()

	if f != nil && f.Command == frame.CONNECT {
		if c.reject {
			c.serverSend(frame.New(frame.ERROR, stomp.HeaderMessage, "bad credentials"))
		} else {
			c.serverSend(frame.New(frame.CONNECTED, "version", "1.2", stomp.HeaderHeartBeat, c.heartBeat))
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) serverSend(f *stomp.Frame) {
	data, err := stomp.Encode(f)
	if err != nil {
		panic(err)
	}
	c.in <- data
}

// message pushes a MESSAGE frame for the subscription with id subID.
func (c *fakeConn) message(subID, destination, body string) {
	f := frame.New(frame.MESSAGE,
		stomp.HeaderSubscription, subID,
		stomp.HeaderDestination, destination,
		"message-id", "1",
	)
	f.Body = []byte(body)
	c.serverSend(f)
}

func (c *fakeConn) framesWith(command string) []*stomp.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*stomp.Frame
	for _, f := range c.frames {
		if f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Command
	}
	return out
}

func (c *fakeConn) heartbeatCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeats
}

// fakeDialer hands out a new fakeConn per dial.
type fakeDialer struct {
	heartBeat string
	reject    bool

	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
}

func (d *fakeDialer) Dial(ctx context.Context, serverURL string) (types.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newFakeConn(d.heartBeat, d.reject)
	d.conns = append(d.conns, c)
	d.urls = append(d.urls, serverURL)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Greater(t, len(d.conns), i, "dial %d never happened", i)
	return d.conns[i]
}
