package wire

import (
	"encoding/binary"
	"math"

	"vaxipc/varint"
)

// Builder constructs one complete frame: a MessageType byte, a sequence
// of magic-tagged values, and a trailing END byte. It mirrors the
// teacher's protocol.Encode, generalized from a fixed 14-byte header to
// the tagged-value sequence spec §4.2 describes.
//
// File descriptors queued with AddFD are not written inline — they are
// carried out-of-band via SCM_RIGHTS when the frame is handed to the
// transport layer (Finish returns them alongside the byte buffer).
type Builder struct {
	msgType MessageType
	buf     []byte
	fds     []int
	done    bool
}

// NewBuilder starts a frame of the given MessageType.
func NewBuilder(msgType MessageType) *Builder {
	return &Builder{
		msgType: msgType,
		buf:     append(make([]byte, 0, 64), byte(msgType)),
	}
}

func (b *Builder) putFixed4(magic Magic, v uint32) {
	b.buf = append(b.buf, byte(magic))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

// AddUint appends a UINT value (4 little-endian bytes).
func (b *Builder) AddUint(v uint32) *Builder {
	b.putFixed4(MagicUint, v)
	return b
}

// AddInt appends an INT value (4 little-endian bytes, two's complement).
func (b *Builder) AddInt(v int32) *Builder {
	b.putFixed4(MagicInt, uint32(v))
	return b
}

// AddF32 appends an F32 value. The wire format is little-endian on every
// supported platform; native byte order is used for the float bits
// themselves (IEEE-754 binary32), matching spec §4.2.
func (b *Builder) AddF32(v float32) *Builder {
	b.putFixed4(MagicF32, math.Float32bits(v))
	return b
}

// AddSeq appends a SEQ value — an opaque sequence number echoed verbatim
// by the peer in replies.
func (b *Builder) AddSeq(seq uint32) *Builder {
	b.putFixed4(MagicSeq, seq)
	return b
}

// AddObjectID appends an OBJECT_ID value.
func (b *Builder) AddObjectID(id uint32) *Builder {
	b.putFixed4(MagicObjectID, id)
	return b
}

// AddString appends a VARCHAR value: a varint length followed by the raw
// (by convention UTF-8, unvalidated) bytes.
func (b *Builder) AddString(s string) *Builder {
	b.buf = append(b.buf, byte(MagicVarchar))
	b.buf = varint.AppendEncode(b.buf, uint64(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

// AddUint32Array appends an ARRAY<uint32>: a varint count followed by N
// packed 4-byte little-endian elements, no per-element magic byte.
func (b *Builder) AddUint32Array(vals []uint32) *Builder {
	b.buf = append(b.buf, byte(MagicArray))
	b.buf = varint.AppendEncode(b.buf, uint64(len(vals)))
	var tmp [4]byte
	for _, v := range vals {
		binary.LittleEndian.PutUint32(tmp[:], v)
		b.buf = append(b.buf, tmp[:]...)
	}
	return b
}

// AddStringArray appends an ARRAY<string>: a varint count followed by N
// elements, each a varint length + bytes (no leading VARCHAR magic per
// element).
func (b *Builder) AddStringArray(vals []string) *Builder {
	b.buf = append(b.buf, byte(MagicArray))
	b.buf = varint.AppendEncode(b.buf, uint64(len(vals)))
	for _, s := range vals {
		b.buf = varint.AppendEncode(b.buf, uint64(len(s)))
		b.buf = append(b.buf, s...)
	}
	return b
}

// AddFD queues a file descriptor to be carried out-of-band via SCM_RIGHTS
// alongside this frame. The FD magic marks its position in the argument
// order so the parser can interleave FD-typed params with inline ones.
func (b *Builder) AddFD(fd int) *Builder {
	b.buf = append(b.buf, byte(MagicFD))
	b.fds = append(b.fds, fd)
	return b
}

// Finish appends the END byte and returns the immutable frame bytes plus
// any queued FDs. Finish may be called at most once.
func (b *Builder) Finish() ([]byte, []int) {
	if !b.done {
		b.buf = append(b.buf, byte(MagicEnd))
		b.done = true
	}
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	fds := make([]int, len(b.fds))
	copy(fds, b.fds)
	return out, fds
}
