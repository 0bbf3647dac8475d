// SocketPool adapts BX-D-mini-RPC's transport.ConnPool (a borrow/return
// pool for exclusive-use TCP connections) to exclusive-use Unix socket
// connections. A long-lived session.Server/ClientSession connection is
// never returned to one of these — a connection's state machine runs
// through exactly one handshake and never resets — so every conn this
// pool hands out is a one-shot: Get dials fresh (or waits for capacity),
// the caller uses it for one session, marks it unusable, and Put then
// discards it (Put only returns conns not marked unusable to circulation). What
// the pool buys in that world is purely a concurrency cap on how many
// connections are outstanding at once, which is what cmd/vaxctl's bench
// subcommand uses it for.
package transport

import (
	"fmt"
	"net"
	"sync"
)

// SocketPool manages a pool of reusable Unix socket connections to a
// single socket path.
type SocketPool struct {
	mu       sync.Mutex
	conns    chan *PooledConn
	path     string
	maxConns int
	curConns int
}

// PooledConn wraps a *net.UnixConn with pool metadata.
type PooledConn struct {
	*net.UnixConn
	pool     *SocketPool
	unusable bool
}

// NewSocketPool creates a pool bound to path with up to maxConns
// connections, created lazily on demand.
func NewSocketPool(path string, maxConns int) *SocketPool {
	return &SocketPool{
		conns:    make(chan *PooledConn, maxConns),
		path:     path,
		maxConns: maxConns,
	}
}

// Get retrieves a connection from the pool, dialing a new one if the
// pool is below capacity and empty, or blocking until one is returned if
// at capacity.
func (p *SocketPool) Get() (*PooledConn, error) {
	select {
	case conn := <-p.conns:
		if conn.unusable {
			return p.createNew()
		}
		return conn, nil
	default:
	}

	p.mu.Lock()
	below := p.curConns < p.maxConns
	p.mu.Unlock()
	if below {
		return p.createNew()
	}
	conn := <-p.conns
	if conn.unusable {
		return p.createNew()
	}
	return conn, nil
}

// Put returns conn to the pool, or closes and discards it if it was
// marked unusable after an error.
func (p *SocketPool) Put(conn *PooledConn) {
	if conn.unusable {
		conn.Close()
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return
	}
	p.conns <- conn
}

// MarkUnusable flags conn so the next Put discards it instead of
// returning it to circulation — call this after a read/write error.
func (conn *PooledConn) MarkUnusable() {
	conn.unusable = true
}

// Close shuts down the pool, closing every pooled connection.
func (p *SocketPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.conns)
	for conn := range p.conns {
		conn.Close()
		p.curConns--
	}
	return nil
}

func (p *SocketPool) createNew() (*PooledConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("transport: socket pool exhausted for %s", p.path)
	}
	conn, err := Dial(p.path)
	if err != nil {
		return nil, err
	}
	p.curConns++
	return &PooledConn{UnixConn: conn, pool: p}, nil
}
