// Package registry holds the table of server-advertised proto.ProtocolSpecs
// and the set of live, handle-addressed Instances bound against it within
// one session, dispatching GENERIC_PROTOCOL_MESSAGE frames to the correct
// method listener. Grounded on BX-D-mini-RPC's server.service (reflection
// based method lookup by name) adapted to vaxipc's declared-schema model:
// since every Method's parameter types are known statically from a
// ProtocolSpec, dispatch here is a table lookup plus a typed decode loop
// rather than reflect.Call.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"vaxipc/fd"
	"vaxipc/proto"
	"vaxipc/vaxerr"
	"vaxipc/wire"
)

// firstHandle is the lowest Instance id Registry ever assigns. id 0 is
// reserved (spec §3: "id 0 is reserved (invalid/root)").
const firstHandle = 1

// Invoker wraps the final call from a dispatched method to its bound
// Listener. Registry calls through invoke instead of the listener
// directly, which lets a session install cross-cutting behavior around
// every dispatch — the same onion-model hook BX-D-mini-RPC's middleware
// chain wraps around its HTTP-shaped handler, generalized from
// (ctx, *RPCMessage) to (object_id, method_id, args).
type Invoker func(objectID, methodID uint32, args []any, next Listener) error

// DefaultInvoke calls straight through to the listener, with no
// cross-cutting behavior. It is the terminal Invoker a middleware chain
// wraps around.
func DefaultInvoke(_, _ uint32, args []any, next Listener) error {
	return next(args)
}

// Registry tracks the protocols a session advertises and the Instances
// bound against them. serverSide controls which half of each Method's
// C2S/S2C pair is the "incoming" direction dispatch decodes against, and
// which half is the "outgoing" direction Call encodes against — a server
// registry dispatches C2S and calls S2C, a client registry is the mirror.
type Registry struct {
	table      *proto.Table
	serverSide bool
	invoke     Invoker

	mu        sync.Mutex
	instances map[uint32]*Instance
	next      uint32
}

// New builds a Registry around an immutable proto.Table. serverSide must
// be true for the server end of a session and false for the client end.
func New(table *proto.Table, serverSide bool) *Registry {
	return &Registry{
		table:      table,
		serverSide: serverSide,
		invoke:     DefaultInvoke,
		instances:  make(map[uint32]*Instance),
		next:       firstHandle,
	}
}

// SetInvoker installs the chain every dispatched method call runs
// through before reaching its Listener. Passing nil restores the
// pass-through default.
func (r *Registry) SetInvoker(inv Invoker) {
	if inv == nil {
		inv = DefaultInvoke
	}
	r.mu.Lock()
	r.invoke = inv
	r.mu.Unlock()
}

// Bind resolves a "name@version" protocol spec and the named object
// within it, allocates the next handle id, and registers a new Instance.
// Mirrors the registry algorithm in spec §4.5: malformed name@version or
// an unknown protocol both return a *vaxerr.FatalError the caller turns
// into FATAL_PROTOCOL_ERROR.
func (r *Registry) Bind(nameVersion, objectName string) (*Instance, error) {
	_, version, err := proto.ParseNameVersion(nameVersion)
	if err != nil {
		return nil, err
	}
	spec, ok := r.table.Lookup(nameVersion)
	if !ok {
		return nil, vaxerr.New(0, vaxerr.UnknownProtocol, fmt.Sprintf("no protocol registered for %q", nameVersion))
	}
	var objSpec proto.ObjectSpec
	found := false
	for _, o := range spec.Objects {
		if o.ObjectName == objectName {
			objSpec = o
			found = true
			break
		}
	}
	if !found {
		return nil, vaxerr.New(0, vaxerr.UnknownProtocol, fmt.Sprintf("protocol %q has no object %q", nameVersion, objectName))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	handle := r.next
	r.next++
	inst := newInstance(handle, spec.Name, version, objSpec)
	r.instances[handle] = inst
	return inst, nil
}

// Adopt registers an Instance under a handle assigned by the peer rather
// than by this Registry's own counter — the client side of spec §3's
// "Instance is created on server-side NEW_OBJECT emission and client-side
// reception": the client doesn't invent handles, it adopts the one the
// server announced.
func (r *Registry) Adopt(handle uint32, nameVersion, objectName string) (*Instance, error) {
	_, version, err := proto.ParseNameVersion(nameVersion)
	if err != nil {
		return nil, err
	}
	spec, ok := r.table.Lookup(nameVersion)
	if !ok {
		return nil, vaxerr.New(0, vaxerr.UnknownProtocol, fmt.Sprintf("no protocol registered for %q", nameVersion))
	}
	var objSpec proto.ObjectSpec
	found := false
	for _, o := range spec.Objects {
		if o.ObjectName == objectName {
			objSpec = o
			found = true
			break
		}
	}
	if !found {
		return nil, vaxerr.New(0, vaxerr.UnknownProtocol, fmt.Sprintf("protocol %q has no object %q", nameVersion, objectName))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	inst := newInstance(handle, spec.Name, version, objSpec)
	r.instances[handle] = inst
	if handle >= r.next {
		r.next = handle + 1
	}
	return inst, nil
}

// Table returns the Registry's immutable protocol table.
func (r *Registry) Table() *proto.Table {
	return r.table
}

// Lookup returns the live Instance for a handle, if any.
func (r *Registry) Lookup(handle uint32) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[handle]
	return inst, ok
}

// Destroy removes a handle from the registry and runs its on_destroy
// hook, per spec §3 ("the optional on_destroy hook runs exactly once").
func (r *Registry) Destroy(handle uint32) {
	r.mu.Lock()
	inst, ok := r.instances[handle]
	if ok {
		delete(r.instances, handle)
	}
	r.mu.Unlock()
	if ok {
		inst.destroy()
	}
}

// DestroyAll tears down every remaining Instance, in descending handle
// order — approximating "reverse creation order" per spec §3, since
// handles are allocated monotonically. Used on session teardown.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	handles := make([]uint32, 0, len(r.instances))
	for h := range r.instances {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for i := len(handles) - 1; i >= 0; i-- {
		r.Destroy(handles[i])
	}
}

// Dispatch decodes a GENERIC_PROTOCOL_MESSAGE payload (object_id, method_id
// already consumed by the caller) against the target Instance's declared
// schema and invokes its registered listener. Per spec §4.5 and §7, an
// error returned here is a *vaxerr.FatalError the caller must turn into
// FATAL_PROTOCOL_ERROR and close the session — unless it's a
// *vaxerr.SoftError, which the caller should log and continue past.
func (r *Registry) Dispatch(objectID, methodID uint32, p *wire.Parser) error {
	inst, ok := r.Lookup(objectID)
	if !ok {
		return vaxerr.New(objectID, vaxerr.BadMethod, fmt.Sprintf("no instance bound for object_id %d", objectID))
	}
	method, ok := inst.ObjectSpec.FindMethod(methodID, r.serverSide)
	if !ok {
		return vaxerr.New(objectID, vaxerr.BadMethod, fmt.Sprintf("object %q has no method %d", inst.ObjectSpec.ObjectName, methodID))
	}
	args, err := decodeArgs(p, method.Params)
	if err != nil {
		return vaxerr.Wrap(objectID, vaxerr.BadPayload, fmt.Sprintf("decoding args for %s.%s", inst.ObjectSpec.ObjectName, method.Name), err)
	}
	// Default disposition for any FD-typed arg is "close" (spec §5): a
	// listener that wants to keep one must call fd.FD.IntoRaw/File, which
	// makes this Close a no-op for it.
	defer closeFDArgs(args)

	listener, ok := inst.listenerFor(methodID)
	if !ok {
		return vaxerr.New(objectID, vaxerr.BadMethod, fmt.Sprintf("no listener registered for %s.%s", inst.ObjectSpec.ObjectName, method.Name))
	}
	r.mu.Lock()
	invoke := r.invoke
	r.mu.Unlock()
	if err := invoke(objectID, methodID, args, listener); err != nil {
		// spec §7: listener errors are fatal (BAD_METHOD) unless the
		// listener opted in to a soft error via vaxerr.Soft, in which case
		// the caller logs and keeps the session alive instead.
		var soft *vaxerr.SoftError
		if errors.As(err, &soft) {
			return soft
		}
		return vaxerr.Wrap(objectID, vaxerr.BadMethod, fmt.Sprintf("listener for %s.%s failed", inst.ObjectSpec.ObjectName, method.Name), err)
	}
	return nil
}

func closeFDArgs(args []any) {
	for _, a := range args {
		if f, ok := a.(*fd.FD); ok {
			_ = f.Close()
		}
	}
}

// Call builds a GENERIC_PROTOCOL_MESSAGE frame for a locally-produced
// method invocation: the object_id/method_id header plus the method's
// declared params encoded from args, in order. Mirrors spec §4.5's
// Call(object_id, method_id) builder.
func (r *Registry) Call(objectID, methodID uint32, args ...any) ([]byte, []int, error) {
	inst, ok := r.Lookup(objectID)
	if !ok {
		return nil, nil, fmt.Errorf("registry: no instance bound for object_id %d", objectID)
	}
	method, ok := inst.ObjectSpec.FindMethod(methodID, !r.serverSide)
	if !ok {
		return nil, nil, fmt.Errorf("registry: object %q has no outgoing method %d", inst.ObjectSpec.ObjectName, methodID)
	}
	b := wire.NewBuilder(wire.GenericProtocolMessage)
	b.AddObjectID(objectID)
	b.AddUint(methodID)
	if err := encodeArgs(b, method.Params, args); err != nil {
		return nil, nil, err
	}
	data, fds := b.Finish()
	return data, fds, nil
}
