package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"vaxipc/middleware"
	"vaxipc/registry"
	"vaxipc/vaxerr"
	"vaxipc/wire"
)

// bindResult is delivered to a pending Bind call when its NEW_OBJECT
// reply (or a FATAL_PROTOCOL_ERROR that preempts it) arrives.
type bindResult struct {
	handle uint32
	err    error
}

// pendingBind additionally remembers the nameVersion a BIND_PROTOCOL call
// was issued for, so the recv loop's NEW_OBJECT handler can adopt the
// server-assigned handle into the local registry under the right spec.
type pendingBind struct {
	nameVersion string
	ch          chan bindResult
}

// ClientSession drives the client role of the state machine (spec §4.4,
// client column: the arrows are reversed — the client speaks first and
// waits for the server's replies). Pending BIND_PROTOCOL and
// ROUNDTRIP_REQUEST calls are tracked by sequence number exactly like
// BX-D-mini-RPC's ClientTransport.pending map, generalized from RPC
// responses to this protocol's NEW_OBJECT/ROUNDTRIP_DONE replies.
type ClientSession struct {
	*Session
	reg *registry.Registry

	seq           atomic.Uint32
	pendingMu     sync.Mutex
	pendingBinds  map[uint32]pendingBind
	pendingTrips  map[uint32]chan struct{}
	advertised    []string
	serverVersion uint32
	recvErr       chan error
}

// NewClientSession wraps a dialed connection. The registry used for
// dispatching server-to-client GENERIC_PROTOCOL_MESSAGE frames is built
// from whatever protocol table the application expects to bind against.
func NewClientSession(conn *net.UnixConn, reg *registry.Registry) *ClientSession {
	return &ClientSession{
		Session:      newSession(conn, defaultLogger()),
		reg:          reg,
		pendingBinds: make(map[uint32]pendingBind),
		pendingTrips: make(map[uint32]chan struct{}),
		recvErr:      make(chan error, 1),
	}
}

// SetLogger overrides the default component logger.
func (c *ClientSession) SetLogger(log zerolog.Logger) {
	c.Session.log = log
}

// Registry exposes the session's object registry.
func (c *ClientSession) Registry() *registry.Registry {
	return c.reg
}

// UseMiddleware installs a chain of cross-cutting behavior around every
// server-to-client GENERIC_PROTOCOL_MESSAGE this session dispatches to a
// bound listener. Call before StartRecvLoop.
func (c *ClientSession) UseMiddleware(mws ...middleware.Middleware) {
	c.reg.SetInvoker(middleware.Chain(mws...)(registry.DefaultInvoke))
}

// Handshake performs the client side of spec §4.4: send SUP("VAX"),
// receive HANDSHAKE_BEGIN and HANDSHAKE_PROTOCOLS, check that wantVersion
// is among the versions the server offered (failing otherwise), and send
// HANDSHAKE_ACK(wantVersion). Returns the advertised "name@version"
// strings; the negotiated version is available from NegotiatedVersion.
func (c *ClientSession) Handshake(wantVersion uint32) ([]string, error) {
	sup := wire.NewBuilder(wire.Sup)
	sup.AddString("VAX")
	if err := c.send(sup); err != nil {
		return nil, err
	}

	var serverVersions []uint32
	if err := c.withFrame(func(p *wire.Parser) error {
		if p.MessageType() != wire.HandshakeBegin {
			return fmt.Errorf("session: expected HANDSHAKE_BEGIN, got %s", p.MessageType())
		}
		versions, err := p.NextUint32Array()
		if err != nil {
			return err
		}
		serverVersions = versions
		return p.ConsumeEnd()
	}); err != nil {
		return nil, err
	}

	if err := c.withFrame(func(p *wire.Parser) error {
		if p.MessageType() != wire.HandshakeProtocols {
			return fmt.Errorf("session: expected HANDSHAKE_PROTOCOLS, got %s", p.MessageType())
		}
		protocols, err := p.NextStringArray()
		if err != nil {
			return err
		}
		c.advertised = protocols
		return p.ConsumeEnd()
	}); err != nil {
		return nil, err
	}

	if !containsVersion(serverVersions, wantVersion) {
		return nil, fmt.Errorf("session: server does not support version %d (offered %v)", wantVersion, serverVersions)
	}

	ack := wire.NewBuilder(wire.HandshakeAck)
	ack.AddUint(wantVersion)
	if err := c.send(ack); err != nil {
		return nil, err
	}
	c.serverVersion = wantVersion
	c.setState(Bound)
	return c.advertised, nil
}

// StartRecvLoop launches the background goroutine that reads frames once
// the session is BOUND, routing control replies to pending Bind/Roundtrip
// callers and GENERIC_PROTOCOL_MESSAGE frames to the registry — mirroring
// ClientTransport.recvLoop's single-reader-goroutine design.
func (c *ClientSession) StartRecvLoop() {
	go c.recvLoop()
}

func (c *ClientSession) recvLoop() {
	for {
		err := c.withFrame(c.handleFrame)
		if err != nil {
			c.failAllPending(err)
			if errors.Is(err, io.EOF) {
				c.recvErr <- nil
			} else {
				c.recvErr <- err
			}
			_ = c.Close()
			return
		}
	}
}

func (c *ClientSession) handleFrame(p *wire.Parser) error {
	switch p.MessageType() {
	case wire.NewObject:
		return c.handleNewObject(p)
	case wire.FatalProtocolError:
		return c.handleFatal(p)
	case wire.RoundtripDone:
		return c.handleRoundtripDone(p)
	case wire.GenericProtocolMessage:
		return c.handleGenericMessage(p)
	default:
		if err := p.ConsumeEnd(); err != nil {
			return err
		}
		return fmt.Errorf("session: unexpected message type %s", p.MessageType())
	}
}

func (c *ClientSession) handleNewObject(p *wire.Parser) error {
	handle, err := p.NextUint()
	if err != nil {
		return err
	}
	seq, err := p.NextUint()
	if err != nil {
		return err
	}
	if err := p.ConsumeEnd(); err != nil {
		return err
	}

	c.pendingMu.Lock()
	pb, ok := c.pendingBinds[seq]
	if ok {
		delete(c.pendingBinds, seq)
	}
	c.pendingMu.Unlock()
	if !ok {
		return nil
	}

	spec, found := c.reg.Table().Lookup(pb.nameVersion)
	if !found || len(spec.Objects) == 0 {
		pb.ch <- bindResult{err: fmt.Errorf("session: client has no local spec for %q", pb.nameVersion)}
		return nil
	}
	inst, err := c.reg.Adopt(handle, pb.nameVersion, spec.Objects[0].ObjectName)
	if err != nil {
		pb.ch <- bindResult{err: err}
		return nil
	}
	pb.ch <- bindResult{handle: inst.Handle}
	return nil
}

func (c *ClientSession) handleFatal(p *wire.Parser) error {
	objID, err := p.NextUint()
	if err != nil {
		return err
	}
	idx, err := p.NextUint()
	if err != nil {
		return err
	}
	msg, err := p.NextString()
	if err != nil {
		return err
	}
	if err := p.ConsumeEnd(); err != nil {
		return err
	}
	fe := vaxerr.New(objID, vaxerr.ErrorIdx(idx), msg)
	c.failAllPending(fe)
	c.setState(Fatal)
	return fe
}

func (c *ClientSession) handleRoundtripDone(p *wire.Parser) error {
	seq, err := p.NextUint()
	if err != nil {
		return err
	}
	if err := p.ConsumeEnd(); err != nil {
		return err
	}
	c.pendingMu.Lock()
	ch, ok := c.pendingTrips[seq]
	if ok {
		delete(c.pendingTrips, seq)
	}
	c.pendingMu.Unlock()
	if ok {
		close(ch)
	}
	return nil
}

func (c *ClientSession) handleGenericMessage(p *wire.Parser) error {
	objID, err := p.NextObjectID()
	if err != nil {
		return err
	}
	methodID, err := p.NextUint()
	if err != nil {
		return err
	}
	if err := c.reg.Dispatch(objID, methodID, p); err != nil {
		closeOwnedFDs(p.RemainingFDs())
		var soft *vaxerr.SoftError
		if errors.As(err, &soft) {
			c.log.Warn().Err(soft.Unwrap()).Uint32("object_id", objID).Uint32("method_id", methodID).
				Msg("listener returned a soft error, session continues")
			return p.ConsumeEnd()
		}
		return err
	}
	closeOwnedFDs(p.RemainingFDs())
	return p.ConsumeEnd()
}

func (c *ClientSession) nextSeq() uint32 {
	return c.seq.Add(1)
}

func (c *ClientSession) failAllPending(err error) {
	c.pendingMu.Lock()
	binds := c.pendingBinds
	c.pendingBinds = make(map[uint32]pendingBind)
	trips := c.pendingTrips
	c.pendingTrips = make(map[uint32]chan struct{})
	c.pendingMu.Unlock()

	for _, pb := range binds {
		pb.ch <- bindResult{err: err}
	}
	for _, ch := range trips {
		close(ch)
	}
}

// Bind sends BIND_PROTOCOL(seq, nameVersion) and blocks until the server
// replies with NEW_OBJECT(handle, seq) (or the session fails), returning
// the allocated handle.
func (c *ClientSession) Bind(nameVersion string) (uint32, error) {
	seq := c.nextSeq()
	ch := make(chan bindResult, 1)
	c.pendingMu.Lock()
	c.pendingBinds[seq] = pendingBind{nameVersion: nameVersion, ch: ch}
	c.pendingMu.Unlock()

	b := wire.NewBuilder(wire.BindProtocol)
	b.AddUint(seq)
	b.AddString(nameVersion)
	if err := c.send(b); err != nil {
		c.pendingMu.Lock()
		delete(c.pendingBinds, seq)
		c.pendingMu.Unlock()
		return 0, err
	}

	res := <-ch
	return res.handle, res.err
}

// Roundtrip sends ROUNDTRIP_REQUEST(seq) and blocks until the matching
// ROUNDTRIP_DONE arrives, fencing every frame sent strictly before this
// call (spec §4.4, §8 scenario 5).
func (c *ClientSession) Roundtrip(timeout time.Duration) error {
	seq := c.nextSeq()
	ch := make(chan struct{})
	c.pendingMu.Lock()
	c.pendingTrips[seq] = ch
	c.pendingMu.Unlock()

	b := wire.NewBuilder(wire.RoundtripRequest)
	b.AddUint(seq)
	if err := c.send(b); err != nil {
		c.pendingMu.Lock()
		delete(c.pendingTrips, seq)
		c.pendingMu.Unlock()
		return err
	}

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("session: roundtrip seq %d timed out after %s", seq, timeout)
	}
}

// Wait blocks until the recv loop exits, returning the terminal error (nil
// on a clean peer close).
func (c *ClientSession) Wait() error {
	return <-c.recvErr
}

// AdvertisedProtocols returns the "name@version" strings the server
// offered in HANDSHAKE_PROTOCOLS.
func (c *ClientSession) AdvertisedProtocols() []string {
	return c.advertised
}

// NegotiatedVersion returns the protocol version chosen during Handshake.
func (c *ClientSession) NegotiatedVersion() uint32 {
	return c.serverVersion
}
