package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"vaxipc/varint"
)

var (
	// ErrBufferTooSmall mirrors the teacher's io.ReadFull short-read
	// failure, raised when a value's declared length runs past the end
	// of the buffer.
	ErrBufferTooSmall = errors.New("wire: buffer too small")
	// ErrInvalidMagicByte is returned when the cursor expects one Magic
	// and observes another.
	ErrInvalidMagicByte = errors.New("wire: invalid magic byte")
	// ErrEmptyBuffer is returned by NewParser when given a zero-length
	// buffer (no MessageType byte to read).
	ErrEmptyBuffer = errors.New("wire: empty buffer, no MessageType byte")
)

// Parser reads a frame produced by Builder: a leading MessageType byte,
// followed by an iterator-style cursor over magic-tagged values, ending
// at (or past) the END magic.
type Parser struct {
	msgType MessageType
	buf     []byte
	off     int
	fds     []int
	fdIdx   int
}

// NewParser reads the leading MessageType and positions the cursor at
// the first value.
func NewParser(buf []byte, fds []int) (*Parser, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	return &Parser{
		msgType: MessageType(buf[0]),
		buf:     buf,
		off:     1,
		fds:     fds,
	}, nil
}

// MessageType returns the frame's leading type byte.
func (p *Parser) MessageType() MessageType {
	return p.msgType
}

// IsComplete reports whether the cursor is sitting on the END magic, or
// has consumed the entire buffer (the two are equivalent for a
// well-formed frame, but IsComplete tolerates either for a partially
// decoded buffer).
func (p *Parser) IsComplete() bool {
	if p.off >= len(p.buf) {
		return true
	}
	return Magic(p.buf[p.off]) == MagicEnd
}

// peekMagic returns the magic byte at the cursor without consuming it.
func (p *Parser) peekMagic() (Magic, error) {
	if p.off >= len(p.buf) {
		return 0, ErrBufferTooSmall
	}
	return Magic(p.buf[p.off]), nil
}

func (p *Parser) expect(want Magic) error {
	got, err := p.peekMagic()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidMagicByte, want, got)
	}
	p.off++
	return nil
}

func (p *Parser) readFixed4(want Magic) (uint32, error) {
	if err := p.expect(want); err != nil {
		return 0, err
	}
	if p.off+4 > len(p.buf) {
		return 0, ErrBufferTooSmall
	}
	v := binary.LittleEndian.Uint32(p.buf[p.off : p.off+4])
	p.off += 4
	return v, nil
}

// NextUint reads a UINT value.
func (p *Parser) NextUint() (uint32, error) {
	return p.readFixed4(MagicUint)
}

// NextInt reads an INT value.
func (p *Parser) NextInt() (int32, error) {
	v, err := p.readFixed4(MagicInt)
	return int32(v), err
}

// NextF32 reads an F32 value.
func (p *Parser) NextF32() (float32, error) {
	v, err := p.readFixed4(MagicF32)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// NextSeq reads a SEQ value.
func (p *Parser) NextSeq() (uint32, error) {
	return p.readFixed4(MagicSeq)
}

// NextObjectID reads an OBJECT_ID value.
func (p *Parser) NextObjectID() (uint32, error) {
	return p.readFixed4(MagicObjectID)
}

// NextString reads a VARCHAR value.
func (p *Parser) NextString() (string, error) {
	if err := p.expect(MagicVarchar); err != nil {
		return "", err
	}
	return p.readLengthPrefixed()
}

func (p *Parser) readLengthPrefixed() (string, error) {
	n, consumed, err := varint.Decode(p.buf[p.off:])
	if err != nil {
		return "", err
	}
	p.off += consumed
	if p.off+int(n) > len(p.buf) {
		return "", ErrBufferTooSmall
	}
	s := string(p.buf[p.off : p.off+int(n)])
	p.off += int(n)
	return s, nil
}

// NextUint32Array reads an ARRAY<uint32> value.
func (p *Parser) NextUint32Array() ([]uint32, error) {
	if err := p.expect(MagicArray); err != nil {
		return nil, err
	}
	n, consumed, err := varint.Decode(p.buf[p.off:])
	if err != nil {
		return nil, err
	}
	p.off += consumed
	out := make([]uint32, n)
	for i := range out {
		if p.off+4 > len(p.buf) {
			return nil, ErrBufferTooSmall
		}
		out[i] = binary.LittleEndian.Uint32(p.buf[p.off : p.off+4])
		p.off += 4
	}
	return out, nil
}

// NextStringArray reads an ARRAY<string> value.
func (p *Parser) NextStringArray() ([]string, error) {
	if err := p.expect(MagicArray); err != nil {
		return nil, err
	}
	n, consumed, err := varint.Decode(p.buf[p.off:])
	if err != nil {
		return nil, err
	}
	p.off += consumed
	out := make([]string, n)
	for i := range out {
		s, err := p.readLengthPrefixed()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// NextFD consumes the FD magic and returns the next file descriptor that
// arrived with this frame's ancillary data. Ownership transfers to the
// caller.
func (p *Parser) NextFD() (int, error) {
	if err := p.expect(MagicFD); err != nil {
		return -1, err
	}
	if p.fdIdx >= len(p.fds) {
		// Same sentinel as a short inline read: the session's batching recv
		// loop treats both as "need another socket read" and retries.
		return -1, ErrBufferTooSmall
	}
	fd := p.fds[p.fdIdx]
	p.fdIdx++
	return fd, nil
}

// RemainingFDs returns file descriptors that arrived with the frame but
// were never consumed by NextFD — callers (the registry) are responsible
// for closing these if they are not otherwise adopted.
func (p *Parser) RemainingFDs() []int {
	return p.fds[p.fdIdx:]
}

// ConsumeEnd expects and consumes the trailing END magic, leaving the
// cursor positioned just past this frame. Callers that batch-read
// multiple frames out of one socket read (session's recv loop) use this
// together with Remaining to carve the next frame out of the same
// buffer.
func (p *Parser) ConsumeEnd() error {
	return p.expect(MagicEnd)
}

// Remaining returns the unconsumed tail of the buffer and FD list past
// the cursor's current position — normally called right after ConsumeEnd
// to obtain the start of the next frame in a batch-read buffer.
func (p *Parser) Remaining() ([]byte, []int) {
	return p.buf[p.off:], p.fds[p.fdIdx:]
}
