package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vaxipc/fd"
	"vaxipc/logging"
	"vaxipc/transport"
	"vaxipc/varint"
	"vaxipc/vaxerr"
	"vaxipc/wire"
)

// errBadAncillary surfaces transport.RawParsedMessage.Bad (spec §4.3 step
// 4: a non-SCM_RIGHTS control message marks the frame bad and parsing
// stops immediately) — always a framing error, never a FATAL frame.
var errBadAncillary = errors.New("session: non-SCM_RIGHTS control message received")

// Session is the shared state and frame-batching machinery used by both
// ServerSession and ClientSession (spec §4.4). Sends are serialized
// through writeMu, matching BX-D-mini-RPC's server per-connection
// writeMu: the receive loop runs on a single goroutine per connection,
// but replies and application-originated Calls may come from elsewhere.
type Session struct {
	// ID has no wire representation — it exists purely so log lines from
	// the accept loop, dispatch, and the fatal-error path can be
	// correlated to one connection.
	ID string

	conn *net.UnixConn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu    sync.Mutex
	state State

	buf []byte
	fds []int
}

func newSession(conn *net.UnixConn, log zerolog.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		ID:    id,
		conn:  conn,
		log:   log.With().Str("session_id", id).Logger(),
		state: ListenSup,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug().Stringer("from", prev).Stringer("to", st).Msg("session state transition")
	}
}

// send serializes a Builder and writes it to the socket, holding writeMu
// for the duration so concurrent senders (the recv loop's replies and any
// application-originated Call) never interleave frames (spec §5,
// "outgoing sends from other tasks must be serialized").
func (s *Session) send(b *wire.Builder) error {
	data, fds := b.Finish()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return transport.SendWithFDs(s.conn, data, fds)
}

// fatal builds and sends a FATAL_PROTOCOL_ERROR frame, transitions to
// Fatal, and closes the socket — the one-way, unrecoverable signal spec
// §4.5/§7 describes.
func (s *Session) fatal(objectID uint32, idx vaxerr.ErrorIdx, message string) error {
	b := wire.NewBuilder(wire.FatalProtocolError)
	b.AddUint(objectID)
	b.AddUint(uint32(idx))
	b.AddString(message)
	sendErr := s.send(b)
	s.setState(Fatal)
	s.log.Warn().Uint32("object_id", objectID).Stringer("error_idx", idx).Str("message", message).Msg("sending FATAL_PROTOCOL_ERROR")
	closeErr := s.Close()
	if sendErr != nil {
		return sendErr
	}
	return closeErr
}

// fatalFrom inspects err: if it is a *vaxerr.FatalError, emits the
// matching FATAL_PROTOCOL_ERROR frame; otherwise treats it as an internal
// error on object 0.
func (s *Session) fatalFrom(err error) error {
	var fe *vaxerr.FatalError
	if errors.As(err, &fe) {
		return s.fatal(fe.ObjectID, fe.Idx, fe.Message)
	}
	return s.fatal(0, vaxerr.Internal, err.Error())
}

// Close releases the socket and marks the session Closed. Safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	s.mu.Unlock()
	return s.conn.Close()
}

// fill pulls one more batch from the transport into the session's
// buffers. Returns io.EOF once the peer has closed and nothing more is
// buffered.
func (s *Session) fill() error {
	raw, err := transport.ParseFrame(s.conn)
	if raw != nil {
		s.buf = append(s.buf, raw.Data...)
		s.fds = append(s.fds, raw.FDs...)
		if raw.Bad {
			return errBadAncillary
		}
		if errors.Is(err, io.EOF) && len(raw.Data) > 0 {
			// Hand over what arrived with the close; the next fill reports EOF.
			return nil
		}
	}
	return err
}

// withFrame decodes exactly one frame from the session's buffered bytes,
// calling fn with a wire.Parser positioned at its start; fn must consume
// every value it expects and finish by calling p.ConsumeEnd(). If fn (or
// ConsumeEnd) reports wire.ErrBufferTooSmall, or a varint length/count cut
// off by the end of the buffer, withFrame pulls more data from the socket
// and retries the same frame from scratch — this is how a frame split
// across multiple batched reads gets reassembled.
func (s *Session) withFrame(fn func(p *wire.Parser) error) error {
	for {
		if len(s.buf) == 0 {
			if err := s.fill(); err != nil {
				return err
			}
			continue
		}

		p, err := wire.NewParser(s.buf, s.fds)
		if err != nil {
			return err
		}

		ferr := fn(p)
		if ferr == nil {
			rest, restFDs := p.Remaining()
			s.buf = rest
			s.fds = restFDs
			return nil
		}
		if errors.Is(ferr, wire.ErrBufferTooSmall) ||
			errors.Is(ferr, varint.ErrBufferTooSmall) || errors.Is(ferr, varint.ErrIncompleteVarInt) {
			before := len(s.buf)
			if err := s.fill(); err != nil {
				if errors.Is(err, io.EOF) && len(s.buf) == before {
					return fmt.Errorf("session: peer closed mid-frame: %w", io.ErrUnexpectedEOF)
				}
				return err
			}
			continue
		}
		return ferr
	}
}

// defaultLogger builds a component logger for sessions that don't supply
// their own, matching package logging's zero-configuration default.
func defaultLogger() zerolog.Logger {
	return logging.Component("session")
}

// closeOwnedFDs closes every FD the session received but never handed to
// a listener — spec §3: "file descriptors received over SCM_RIGHTS
// become owned by the receiving session and must be closed on session
// teardown if not adopted by an application listener."
func closeOwnedFDs(raw []int) {
	fd.CloseAll(fd.WrapAll(raw))
}
