package http

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rhuss/keyspace/pkg/protocol"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// Pool keeps authenticated protocol connections to the keyspace server.
// Connections that broke mid-request are discarded on Put.
type Pool struct {
	addr     string
	password string
	idle     chan *protocol.Client

	mu     sync.Mutex
	closed bool

	dial func(ctx context.Context, addr string) (*protocol.Client, error)
}

// NewPool creates a pool of up to size idle connections to addr.
func NewPool(addr, password string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		addr:     addr,
		password: password,
		idle:     make(chan *protocol.Client, size),
		dial:     protocol.Dial,
	}
}

// Get returns an idle connection or dials a new one.
func (p *Pool) Get(ctx context.Context) (*protocol.Client, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	for {
		select {
		case c := <-p.idle:
			if !c.Broken() {
				return c, nil
			}
		default:
			return p.connect(ctx)
		}
	}
}

func (p *Pool) connect(ctx context.Context) (*protocol.Client, error) {
	c, err := p.dial(ctx, p.addr)
	if err != nil {
		return nil, err
	}
	if p.password != "" {
		if err := c.Auth(ctx, p.password); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("authenticating gateway connection: %w", err)
		}
	}
	return c, nil
}

// Put returns c to the pool, closing it if it is broken or the pool is full.
func (p *Pool) Put(c *protocol.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || c.Broken() {
		_ = c.Close()
		return
	}
	select {
	case p.idle <- c:
	default:
		_ = c.Close()
	}
}

// Close closes every idle connection. Connections still checked out are
// closed when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for {
		select {
		case c := <-p.idle:
			_ = c.Close()
		default:
			return nil
		}
	}
}
