// Package proto defines the ProtocolSpec/ObjectSpec/Method data model a
// vaxipc server advertises (spec §3). Per DESIGN NOTES §9, the reference
// source's vtable-of-function-pointers ObjectSpec/Protocol is replaced
// with plain structs: since each spec is a concrete, non-polymorphic
// value, single dispatch through a lookup table is sufficient — there is
// no need for an interface here at all.
package proto

import (
	"fmt"
	"strconv"
	"strings"

	"vaxipc/vaxerr"
	"vaxipc/wire"
)

// ParamSpec describes one declared parameter of a Method. ArrayElem is
// only meaningful when Magic == wire.MagicArray — per DESIGN NOTES §9,
// array element kind is part of the schema, not the wire, so it has no
// representation inside a frame and must come from here.
type ParamSpec struct {
	Magic     wire.Magic
	ArrayElem wire.ArrayElemKind
}

// Method describes one c2s or s2c method: its wire method id, its
// declared parameter sequence, and the protocol version it was
// introduced in.
type Method struct {
	Idx    uint32
	Name   string
	Params []ParamSpec
	Since  uint32
}

// ObjectSpec describes the methods available on instances of one object
// kind within a protocol, split by direction.
type ObjectSpec struct {
	ObjectName string
	C2S        []Method
	S2C        []Method
}

// ProtocolSpec is one named, versioned protocol a server advertises.
type ProtocolSpec struct {
	Name    string
	Version uint32
	Objects []ObjectSpec
}

// NameVersion formats "name@version", the wire representation used by
// HANDSHAKE_PROTOCOLS and BIND_PROTOCOL (spec §6).
func (p ProtocolSpec) NameVersion() string {
	return fmt.Sprintf("%s@%d", p.Name, p.Version)
}

// ParseNameVersion splits a "name@version" string as BIND_PROTOCOL
// requires (spec §4.5): split on '@', parse the version as a uint32.
// Malformed input maps to InvalidProtocolSpec, which the caller turns
// into a FATAL_PROTOCOL_ERROR.
func ParseNameVersion(s string) (name string, version uint32, err error) {
	idx := strings.LastIndexByte(s, '@')
	if idx < 0 {
		return "", 0, vaxerr.New(0, vaxerr.InvalidProtocolSpec, fmt.Sprintf("missing '@' in protocol spec %q", s))
	}
	name = s[:idx]
	if name == "" {
		return "", 0, vaxerr.New(0, vaxerr.InvalidProtocolSpec, fmt.Sprintf("empty protocol name in %q", s))
	}
	v, perr := strconv.ParseUint(s[idx+1:], 10, 32)
	if perr != nil {
		return "", 0, vaxerr.Wrap(0, vaxerr.InvalidProtocolSpec, fmt.Sprintf("invalid version in %q", s), perr)
	}
	return name, uint32(v), nil
}

// FindMethod looks up a method by id among the methods available in the
// given direction (c2s for server-received messages, s2c for
// client-received ones).
func (o ObjectSpec) FindMethod(methodID uint32, serverSide bool) (Method, bool) {
	methods := o.S2C
	if serverSide {
		methods = o.C2S
	}
	for _, m := range methods {
		if m.Idx == methodID {
			return m, true
		}
	}
	return Method{}, false
}

// Table is an immutable, post-init set of ProtocolSpecs keyed by
// "name@version", matching spec §5 ("the registry is read-mostly; if
// runtime registration is ever needed it must be guarded by a writer
// lock acquired while no session holds a reference" — Table itself does
// not provide that lock, by design: callers needing hot reload must
// swap the whole *Table under their own synchronization rather than
// mutate one in place).
type Table struct {
	specs map[string]ProtocolSpec
	names []string // advertised "name@version" strings, insertion order
}

// NewTable builds an immutable lookup table from a set of specs.
func NewTable(specs []ProtocolSpec) *Table {
	t := &Table{specs: make(map[string]ProtocolSpec, len(specs))}
	for _, s := range specs {
		key := s.NameVersion()
		t.specs[key] = s
		t.names = append(t.names, key)
	}
	return t
}

// Lookup finds a spec by its "name@version" wire string.
func (t *Table) Lookup(nameVersion string) (ProtocolSpec, bool) {
	s, ok := t.specs[nameVersion]
	return s, ok
}

// Advertised returns every "name@version" string in the table, in the
// order the specs were registered — the exact payload of
// HANDSHAKE_PROTOCOLS.
func (t *Table) Advertised() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}
