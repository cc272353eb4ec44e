package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rhuss/keyspace/pkg/value"
)

// ErrClientClosed is returned by a Client whose connection was closed or
// broken by an earlier I/O failure.
var ErrClientClosed = errors.New("client closed")

// Client is a single protocol connection. It is safe for concurrent use;
// requests on one Client are serialized.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	broken bool
}

// Dial connects to a keyspace server.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// Do sends req and waits for the response. The context deadline bounds the
// round trip; if it fires mid-request the connection is marked broken,
// because the stream position is no longer known.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return nil, ErrClientClosed
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.broken = true
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	resp, err := c.roundTrip(req)
	if err != nil {
		c.broken = true
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// The connection deadline can fire just before the context's own timer.
		if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(req *Request) (*Response, error) {
	if err := WriteRequest(c.w, req); err != nil {
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		return nil, err
	}
	return ReadResponse(c.r)
}

// Broken reports whether the connection can no longer be used.
func (c *Client) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
	return c.conn.Close()
}

// call performs req and converts any non-OK, non-Nil status to an error.
func (c *Client) call(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK && resp.Status != StatusNil {
		return nil, statusError(resp)
	}
	return resp, nil
}

// Auth authenticates the session.
func (c *Client) Auth(ctx context.Context, password string) error {
	_, err := c.call(ctx, NewRequest(OpAuth, password))
	return err
}

// Select makes namespace the session's active namespace.
func (c *Client) Select(ctx context.Context, namespace string) error {
	_, err := c.call(ctx, NewRequest(OpSelect, namespace))
	return err
}

// SetEx stores v at key for ttlSeconds; zero means never expire.
func (c *Client) SetEx(ctx context.Context, key string, v value.Value, ttlSeconds uint64) error {
	data, err := value.Encode(v)
	if err != nil {
		return err
	}
	req := &Request{Op: OpSetEx, Args: [][]byte{
		[]byte(key),
		data,
		[]byte(strconv.FormatUint(ttlSeconds, 10)),
	}}
	_, err = c.call(ctx, req)
	return err
}

// Get fetches key. The boolean is false when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (value.Value, bool, error) {
	resp, err := c.call(ctx, NewRequest(OpGet, key))
	if err != nil {
		return value.Value{}, false, err
	}
	if resp.Status == StatusNil {
		return value.Value{}, false, nil
	}
	v, err := value.Decode(resp.Payload)
	if err != nil {
		return value.Value{}, false, err
	}
	return v, true, nil
}

// Del removes key and reports whether it existed.
func (c *Client) Del(ctx context.Context, key string) (bool, error) {
	resp, err := c.call(ctx, NewRequest(OpDel, key))
	if err != nil {
		return false, err
	}
	return string(resp.Payload) == "1", nil
}

// Exists reports whether key holds a live entry.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := c.call(ctx, NewRequest(OpExists, key))
	if err != nil {
		return false, err
	}
	return string(resp.Payload) == "1", nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.call(ctx, NewRequest(OpPing))
	if err != nil {
		return err
	}
	if string(resp.Payload) != "PONG" {
		return fmt.Errorf("%w: unexpected ping reply %q", ErrServer, resp.Payload)
	}
	return nil
}

// Call runs an extension command and returns its text result.
func (c *Client) Call(ctx context.Context, name string, args ...string) (string, error) {
	resp, err := c.call(ctx, NewRequest(OpCall, append([]string{name}, args...)...))
	if err != nil {
		return "", err
	}
	return string(resp.Payload), nil
}
