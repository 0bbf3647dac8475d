// Package wire implements the magic-byte tagged value layer: every typed
// value on the wire is a single Magic byte followed by a fixed- or
// length-prefixed payload, and every frame begins with one MessageType
// byte and ends with exactly one END magic byte.
package wire

// MessageType is the single leading byte of every frame (spec §3, §6).
type MessageType byte

const (
	Invalid                 MessageType = 0
	Sup                     MessageType = 1
	HandshakeBegin          MessageType = 2
	HandshakeAck            MessageType = 3
	HandshakeProtocols      MessageType = 4
	BindProtocol            MessageType = 10
	NewObject               MessageType = 11
	FatalProtocolError      MessageType = 12
	RoundtripRequest        MessageType = 13
	RoundtripDone           MessageType = 14
	GenericProtocolMessage  MessageType = 100
)

func (t MessageType) String() string {
	switch t {
	case Invalid:
		return "INVALID"
	case Sup:
		return "SUP"
	case HandshakeBegin:
		return "HANDSHAKE_BEGIN"
	case HandshakeAck:
		return "HANDSHAKE_ACK"
	case HandshakeProtocols:
		return "HANDSHAKE_PROTOCOLS"
	case BindProtocol:
		return "BIND_PROTOCOL"
	case NewObject:
		return "NEW_OBJECT"
	case FatalProtocolError:
		return "FATAL_PROTOCOL_ERROR"
	case RoundtripRequest:
		return "ROUNDTRIP_REQUEST"
	case RoundtripDone:
		return "ROUNDTRIP_DONE"
	case GenericProtocolMessage:
		return "GENERIC_PROTOCOL_MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// Magic identifies the type of the value that follows it inside a frame
// payload. Array elements are the one exception — they are packed without
// a per-element magic byte (§4.2).
type Magic byte

const (
	MagicUint     Magic = 0x01
	MagicInt      Magic = 0x02
	MagicF32      Magic = 0x03
	MagicSeq      Magic = 0x04
	MagicObjectID Magic = 0x05
	MagicVarchar  Magic = 0x06
	MagicArray    Magic = 0x07
	MagicObject   Magic = 0x08
	// MagicFD is not in the reference source, which overloads MagicObject
	// as an ad hoc FD marker in its Call builder. Per the §9 open
	// question we allocate a distinct magic instead of reusing OBJECT.
	MagicFD  Magic = 0x09
	MagicEnd Magic = 0xFF
)

func (m Magic) String() string {
	switch m {
	case MagicUint:
		return "UINT"
	case MagicInt:
		return "INT"
	case MagicF32:
		return "F32"
	case MagicSeq:
		return "SEQ"
	case MagicObjectID:
		return "OBJECT_ID"
	case MagicVarchar:
		return "VARCHAR"
	case MagicArray:
		return "ARRAY"
	case MagicObject:
		return "OBJECT"
	case MagicFD:
		return "FD"
	case MagicEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// ArrayElemKind distinguishes the two element layouts ARRAY supports.
// The element kind is part of the method schema, not the wire — there is
// no tag for it inside the frame itself (§4.2, DESIGN NOTES §9).
type ArrayElemKind byte

const (
	ArrayElemUint32 ArrayElemKind = iota
	ArrayElemString
)
