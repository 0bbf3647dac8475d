package session

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"vaxipc/middleware"
	"vaxipc/proto"
	"vaxipc/registry"
	"vaxipc/vaxerr"
	"vaxipc/wire"
)

// ServerSession drives the server role of the handshake/bind/dispatch
// state machine (spec §4.4, server column). Grounded on BX-D-mini-RPC's
// Server.handleConn: one goroutine owns the receive loop for a
// connection; here every transition and dispatch also happens on that
// goroutine, since spec §5 requires a session to be single-threaded by
// contract.
type ServerSession struct {
	*Session
	table    *proto.Table
	versions []uint32
	reg      *registry.Registry

	chosenVersion uint32
}

// NewServerSession wraps an accepted connection. table is the immutable
// set of protocols this server advertises; versions is the handshake
// version list offered in HANDSHAKE_BEGIN.
func NewServerSession(conn *net.UnixConn, table *proto.Table, versions []uint32) *ServerSession {
	return &ServerSession{
		Session:  newSession(conn, defaultLogger()),
		table:    table,
		versions: versions,
		reg:      registry.New(table, true),
	}
}

// Registry exposes the session's object registry so callers can register
// listeners on Instances as they're bound.
func (srv *ServerSession) Registry() *registry.Registry {
	return srv.reg
}

// SetLogger overrides the default component logger.
func (srv *ServerSession) SetLogger(log zerolog.Logger) {
	srv.Session.log = log
}

// UseMiddleware installs a chain of cross-cutting behavior (logging,
// rate limiting, timeouts) around every GENERIC_PROTOCOL_MESSAGE this
// session dispatches to a bound listener. Call before Run.
func (srv *ServerSession) UseMiddleware(mws ...middleware.Middleware) {
	srv.reg.SetInvoker(middleware.Chain(mws...)(registry.DefaultInvoke))
}

// Run processes frames until the session closes (cleanly or fatally).
// Returns nil on a clean peer close, otherwise the error that ended the
// session.
func (srv *ServerSession) Run() error {
	defer srv.reg.DestroyAll()
	for {
		err := srv.withFrame(srv.handleFrame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return srv.Close()
			}
			if errors.Is(err, errBadAncillary) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Framing errors: close without attempting a FATAL frame,
				// since the peer cannot be trusted to parse one (spec §7).
				return srv.Close()
			}
			if srv.State() == Fatal || srv.State() == Closed {
				return err
			}
			if ferr := srv.fatalFrom(err); ferr != nil {
				return ferr
			}
			return err
		}
	}
}

func (srv *ServerSession) handleFrame(p *wire.Parser) error {
	switch srv.State() {
	case ListenSup:
		return srv.handleListenSup(p)
	case AwaitingAck:
		return srv.handleAwaitingAck(p)
	case Bound:
		return srv.handleBound(p)
	default:
		return p.ConsumeEnd()
	}
}

func (srv *ServerSession) handleListenSup(p *wire.Parser) error {
	if p.MessageType() != wire.Sup {
		if err := p.ConsumeEnd(); err != nil {
			return err
		}
		return vaxerr.New(0, vaxerr.BadHandshake, fmt.Sprintf("expected SUP, got %s", p.MessageType()))
	}
	s, err := p.NextString()
	if err != nil {
		return err
	}
	if err := p.ConsumeEnd(); err != nil {
		return err
	}
	if s != "VAX" {
		return vaxerr.New(0, vaxerr.BadHandshake, fmt.Sprintf("expected SUP payload \"VAX\", got %q", s))
	}

	begin := wire.NewBuilder(wire.HandshakeBegin)
	begin.AddUint32Array(srv.versions)
	if err := srv.send(begin); err != nil {
		return err
	}

	protocols := wire.NewBuilder(wire.HandshakeProtocols)
	protocols.AddStringArray(srv.table.Advertised())
	if err := srv.send(protocols); err != nil {
		return err
	}

	srv.setState(AwaitingAck)
	return nil
}

func (srv *ServerSession) handleAwaitingAck(p *wire.Parser) error {
	if p.MessageType() != wire.HandshakeAck {
		if err := p.ConsumeEnd(); err != nil {
			return err
		}
		return vaxerr.New(0, vaxerr.BadHandshake, fmt.Sprintf("expected HANDSHAKE_ACK, got %s", p.MessageType()))
	}
	ver, err := p.NextUint()
	if err != nil {
		return err
	}
	if err := p.ConsumeEnd(); err != nil {
		return err
	}
	if !containsVersion(srv.versions, ver) {
		return vaxerr.New(0, vaxerr.UnsupportedVersion, fmt.Sprintf("version %d not in advertised set %v", ver, srv.versions))
	}
	srv.chosenVersion = ver
	srv.setState(Bound)
	return nil
}

func (srv *ServerSession) handleBound(p *wire.Parser) error {
	switch p.MessageType() {
	case wire.BindProtocol:
		return srv.handleBindProtocol(p)
	case wire.RoundtripRequest:
		return srv.handleRoundtripRequest(p)
	case wire.GenericProtocolMessage:
		return srv.handleGenericMessage(p)
	default:
		if err := p.ConsumeEnd(); err != nil {
			return err
		}
		return vaxerr.New(0, vaxerr.BadPayload, fmt.Sprintf("unexpected message type %s in BOUND", p.MessageType()))
	}
}

func (srv *ServerSession) handleBindProtocol(p *wire.Parser) error {
	seq, err := p.NextUint()
	if err != nil {
		return err
	}
	nameVersion, err := p.NextString()
	if err != nil {
		return err
	}
	if err := p.ConsumeEnd(); err != nil {
		return err
	}

	spec, ok := srv.table.Lookup(nameVersion)
	if !ok {
		return vaxerr.New(0, vaxerr.UnknownProtocol, fmt.Sprintf("no protocol registered for %q", nameVersion))
	}
	if len(spec.Objects) == 0 {
		return vaxerr.New(0, vaxerr.InvalidProtocolSpec, fmt.Sprintf("protocol %q declares no objects", nameVersion))
	}
	inst, err := srv.reg.Bind(nameVersion, spec.Objects[0].ObjectName)
	if err != nil {
		return err
	}

	// NEW_OBJECT must be emitted before any other server-originated frame
	// on the new handle (spec §9 open question, resolved conservatively).
	reply := wire.NewBuilder(wire.NewObject)
	reply.AddUint(inst.Handle)
	reply.AddUint(seq)
	return srv.send(reply)
}

func (srv *ServerSession) handleRoundtripRequest(p *wire.Parser) error {
	seq, err := p.NextUint()
	if err != nil {
		return err
	}
	if err := p.ConsumeEnd(); err != nil {
		return err
	}
	// Sends in this implementation are synchronous under writeMu, so every
	// frame queued before this point has already reached the socket —
	// "flush any pending outgoing frames" is a no-op here by construction.
	reply := wire.NewBuilder(wire.RoundtripDone)
	reply.AddUint(seq)
	return srv.send(reply)
}

func (srv *ServerSession) handleGenericMessage(p *wire.Parser) error {
	objID, err := p.NextObjectID()
	if err != nil {
		return err
	}
	methodID, err := p.NextUint()
	if err != nil {
		return err
	}
	if err := srv.reg.Dispatch(objID, methodID, p); err != nil {
		// Remaining FDs the listener never reached (decode failed partway)
		// are this session's responsibility to close.
		closeOwnedFDs(p.RemainingFDs())
		var soft *vaxerr.SoftError
		if errors.As(err, &soft) {
			srv.log.Warn().Err(soft.Unwrap()).Uint32("object_id", objID).Uint32("method_id", methodID).
				Msg("listener returned a soft error, session continues")
			return p.ConsumeEnd()
		}
		return err
	}
	closeOwnedFDs(p.RemainingFDs())
	return p.ConsumeEnd()
}

func containsVersion(versions []uint32, v uint32) bool {
	for _, x := range versions {
		if x == v {
			return true
		}
	}
	return false
}
