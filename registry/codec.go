package registry

import (
	"fmt"

	"vaxipc/fd"
	"vaxipc/proto"
	"vaxipc/wire"
)

// decodeArgs reads len(params) values from p, each magic-tagged according
// to its ParamSpec, and returns them as a slice of Go-native values in
// declared order. FD params come back wrapped in *fd.FD, owned by the
// caller.
func decodeArgs(p *wire.Parser, params []proto.ParamSpec) ([]any, error) {
	args := make([]any, 0, len(params))
	for i, ps := range params {
		v, err := decodeValue(p, ps)
		if err != nil {
			return nil, fmt.Errorf("registry: decoding param %d: %w", i, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func decodeValue(p *wire.Parser, ps proto.ParamSpec) (any, error) {
	switch ps.Magic {
	case wire.MagicUint:
		return p.NextUint()
	case wire.MagicInt:
		return p.NextInt()
	case wire.MagicF32:
		return p.NextF32()
	case wire.MagicSeq:
		return p.NextSeq()
	case wire.MagicObjectID:
		return p.NextObjectID()
	case wire.MagicVarchar:
		return p.NextString()
	case wire.MagicArray:
		if ps.ArrayElem == wire.ArrayElemUint32 {
			return p.NextUint32Array()
		}
		return p.NextStringArray()
	case wire.MagicFD:
		raw, err := p.NextFD()
		if err != nil {
			return nil, err
		}
		return fd.New(raw), nil
	default:
		return nil, fmt.Errorf("registry: unsupported param magic %s in schema", ps.Magic)
	}
}

// encodeArgs appends len(params) values to b, each encoded according to
// its ParamSpec, validating that the supplied Go value matches the
// declared wire type.
func encodeArgs(b *wire.Builder, params []proto.ParamSpec, args []any) error {
	if len(args) != len(params) {
		return fmt.Errorf("registry: call supplied %d args, method declares %d", len(args), len(params))
	}
	for i, ps := range params {
		if err := encodeValue(b, ps, args[i]); err != nil {
			return fmt.Errorf("registry: encoding param %d: %w", i, err)
		}
	}
	return nil
}

func encodeValue(b *wire.Builder, ps proto.ParamSpec, v any) error {
	switch ps.Magic {
	case wire.MagicUint:
		u, ok := v.(uint32)
		if !ok {
			return fmt.Errorf("registry: want uint32 for UINT, got %T", v)
		}
		b.AddUint(u)
	case wire.MagicInt:
		n, ok := v.(int32)
		if !ok {
			return fmt.Errorf("registry: want int32 for INT, got %T", v)
		}
		b.AddInt(n)
	case wire.MagicF32:
		f, ok := v.(float32)
		if !ok {
			return fmt.Errorf("registry: want float32 for F32, got %T", v)
		}
		b.AddF32(f)
	case wire.MagicSeq:
		s, ok := v.(uint32)
		if !ok {
			return fmt.Errorf("registry: want uint32 for SEQ, got %T", v)
		}
		b.AddSeq(s)
	case wire.MagicObjectID:
		id, ok := v.(uint32)
		if !ok {
			return fmt.Errorf("registry: want uint32 for OBJECT_ID, got %T", v)
		}
		b.AddObjectID(id)
	case wire.MagicVarchar:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("registry: want string for VARCHAR, got %T", v)
		}
		b.AddString(s)
	case wire.MagicArray:
		if ps.ArrayElem == wire.ArrayElemUint32 {
			arr, ok := v.([]uint32)
			if !ok {
				return fmt.Errorf("registry: want []uint32 for ARRAY<uint32>, got %T", v)
			}
			b.AddUint32Array(arr)
		} else {
			arr, ok := v.([]string)
			if !ok {
				return fmt.Errorf("registry: want []string for ARRAY<string>, got %T", v)
			}
			b.AddStringArray(arr)
		}
	case wire.MagicFD:
		switch fv := v.(type) {
		case *fd.FD:
			b.AddFD(fv.IntoRaw())
		case int:
			b.AddFD(fv)
		default:
			return fmt.Errorf("registry: want *fd.FD or int for FD, got %T", v)
		}
	default:
		return fmt.Errorf("registry: unsupported param magic %s in schema", ps.Magic)
	}
	return nil
}
