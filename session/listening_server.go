package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"vaxipc/middleware"
	"vaxipc/proto"
	"vaxipc/transport"
)

// Server accepts connections on a Unix socket and runs one ServerSession
// per connection. Grounded on BX-D-mini-RPC's server.Server accept loop
// and Shutdown, simplified for this protocol's single-reader-per-session
// contract: there is no per-request goroutine fan-out here, since a
// session's frames must be handled strictly in order (spec §5).
type Server struct {
	table       *proto.Table
	versions    []uint32
	log         zerolog.Logger
	middlewares []middleware.Middleware
	onSession   func(*ServerSession)

	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewServer builds a Server that will advertise table over the given
// handshake versions.
func NewServer(table *proto.Table, versions []uint32, log zerolog.Logger) *Server {
	return &Server{table: table, versions: versions, log: log}
}

// Use registers middleware applied, in order, to every session's
// registry before it starts processing frames.
func (s *Server) Use(mw ...middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw...)
}

// OnSession installs a hook run on every accepted session before its
// Run loop starts — the place to register Instance listeners as they're
// bound, or to SetLogger with session-specific fields.
func (s *Server) OnSession(fn func(*ServerSession)) {
	s.onSession = fn
}

// Serve listens on path and runs the accept loop until Shutdown closes
// the listener.
func (s *Server) Serve(path string) error {
	ln, err := transport.Listen(path)
	if err != nil {
		return err
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn.(*net.UnixConn))
	}
}

func (s *Server) handleConn(conn *net.UnixConn) {
	defer s.wg.Done()
	srv := NewServerSession(conn, s.table, s.versions)
	srv.SetLogger(s.log)
	if len(s.middlewares) > 0 {
		srv.UseMiddleware(s.middlewares...)
	}
	if s.onSession != nil {
		s.onSession(srv)
	}
	if err := srv.Run(); err != nil {
		s.log.Warn().Str("session_id", srv.ID).Err(err).Msg("session ended")
	}
}

// Shutdown stops accepting new connections and waits up to timeout for
// in-flight sessions to finish tearing down (each session's own
// registry.DestroyAll runs its Instances' on_destroy hooks as it exits).
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("session: timeout waiting for sessions to finish")
	}
}
