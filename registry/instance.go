package registry

import (
	"sync"

	"vaxipc/proto"
)

// Listener is invoked when a GENERIC_PROTOCOL_MESSAGE frame dispatches to
// one of an Instance's registered methods. args holds the decoded values
// in declared-param order; a listener keeps an *fd.FD value only by
// adopting it (IntoRaw/File) — the caller (registry.Dispatch) closes
// anything the listener doesn't keep once it returns.
type Listener func(args []any) error

// OnDestroy runs exactly once when an Instance is torn down (spec §3,
// Instance.on_destroy), either by an explicit FATAL_PROTOCOL_ERROR on its
// handle or by session teardown.
type OnDestroy func()

// Instance is a live, server-allocated handle bound to one object within
// a protocol (spec §3). id 0 is reserved and never assigned by Registry.
type Instance struct {
	Handle       uint32
	ProtocolName string
	Version      uint32
	ObjectSpec   proto.ObjectSpec

	mu        sync.Mutex
	listeners map[uint32]Listener
	onDestroy OnDestroy
	destroyed bool
}

func newInstance(handle uint32, protocolName string, version uint32, spec proto.ObjectSpec) *Instance {
	return &Instance{
		Handle:       handle,
		ProtocolName: protocolName,
		Version:      version,
		ObjectSpec:   spec,
		listeners:    make(map[uint32]Listener),
	}
}

// SetListener registers the callback invoked for a given method id. A
// handle with no listener registered for a received method id is a
// dispatch error (spec §4.5): BAD_METHOD, not a silent drop.
func (inst *Instance) SetListener(methodID uint32, l Listener) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.listeners[methodID] = l
}

// SetOnDestroy registers the hook that runs exactly once when the
// instance is destroyed.
func (inst *Instance) SetOnDestroy(fn OnDestroy) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.onDestroy = fn
}

func (inst *Instance) listenerFor(methodID uint32) (Listener, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	l, ok := inst.listeners[methodID]
	return l, ok
}

// destroy runs the on_destroy hook exactly once, tolerating repeated
// calls (session teardown and an explicit FATAL on the same handle can
// both try to destroy it).
func (inst *Instance) destroy() {
	inst.mu.Lock()
	already := inst.destroyed
	inst.destroyed = true
	hook := inst.onDestroy
	inst.mu.Unlock()

	if !already && hook != nil {
		hook()
	}
}
