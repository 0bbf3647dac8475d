// Package protoconf loads a set of proto.ProtocolSpec definitions from a
// YAML file, grounded on thiagojdb-adoctl's pkg/config: a host compositor
// declares the protocols it advertises in protocols.yaml rather than
// recompiling the registry table by hand. The in-memory proto.Table
// built from the result stays immutable post-init per spec §5 — this
// package only concerns itself with getting that initial snapshot off
// disk.
package protoconf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"vaxipc/proto"
	"vaxipc/wire"
)

// fileMethod/fileObject/fileSpec/fileDoc mirror proto's types with YAML
// tags and string-typed magic/array-elem fields, since wire.Magic and
// wire.ArrayElemKind are not meant to be spelled as raw bytes in a config
// file a human edits.
type fileParam struct {
	Type      string `yaml:"type"`
	ArrayElem string `yaml:"array_elem,omitempty"`
}

type fileMethod struct {
	Idx    uint32      `yaml:"idx"`
	Name   string      `yaml:"name"`
	Params []fileParam `yaml:"params,omitempty"`
	Since  uint32      `yaml:"since"`
}

type fileObject struct {
	ObjectName string       `yaml:"object_name"`
	C2S        []fileMethod `yaml:"c2s,omitempty"`
	S2C        []fileMethod `yaml:"s2c,omitempty"`
}

type fileSpec struct {
	Name    string       `yaml:"name"`
	Version uint32       `yaml:"version"`
	Objects []fileObject `yaml:"objects,omitempty"`
}

type fileDoc struct {
	Protocols []fileSpec `yaml:"protocols"`
}

var magicByName = map[string]wire.Magic{
	"uint":      wire.MagicUint,
	"int":       wire.MagicInt,
	"f32":       wire.MagicF32,
	"seq":       wire.MagicSeq,
	"object_id": wire.MagicObjectID,
	"varchar":   wire.MagicVarchar,
	"array":     wire.MagicArray,
	"fd":        wire.MagicFD,
}

var arrayElemByName = map[string]wire.ArrayElemKind{
	"uint32": wire.ArrayElemUint32,
	"string": wire.ArrayElemString,
}

// Load reads and parses a protocols.yaml file at path into a slice of
// proto.ProtocolSpec.
func Load(path string) ([]proto.ProtocolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("protoconf: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes (as produced by protocols.yaml) into a slice
// of proto.ProtocolSpec, separated from Load so callers can parse an
// embedded or generated document without touching the filesystem.
func Parse(data []byte) ([]proto.ProtocolSpec, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("protoconf: parsing yaml: %w", err)
	}

	specs := make([]proto.ProtocolSpec, 0, len(doc.Protocols))
	for _, fs := range doc.Protocols {
		spec := proto.ProtocolSpec{Name: fs.Name, Version: fs.Version}
		for _, fo := range fs.Objects {
			obj := proto.ObjectSpec{ObjectName: fo.ObjectName}
			c2s, err := convertMethods(fo.C2S, fs.Name, fo.ObjectName)
			if err != nil {
				return nil, err
			}
			s2c, err := convertMethods(fo.S2C, fs.Name, fo.ObjectName)
			if err != nil {
				return nil, err
			}
			obj.C2S = c2s
			obj.S2C = s2c
			spec.Objects = append(spec.Objects, obj)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func convertMethods(in []fileMethod, protoName, objName string) ([]proto.Method, error) {
	out := make([]proto.Method, 0, len(in))
	for _, fm := range in {
		params := make([]proto.ParamSpec, 0, len(fm.Params))
		for _, fp := range fm.Params {
			magic, ok := magicByName[fp.Type]
			if !ok {
				return nil, fmt.Errorf("protoconf: %s/%s/%s: unknown param type %q", protoName, objName, fm.Name, fp.Type)
			}
			ps := proto.ParamSpec{Magic: magic}
			if magic == wire.MagicArray {
				elem, ok := arrayElemByName[fp.ArrayElem]
				if !ok {
					return nil, fmt.Errorf("protoconf: %s/%s/%s: unknown array_elem %q", protoName, objName, fm.Name, fp.ArrayElem)
				}
				ps.ArrayElem = elem
			}
			params = append(params, ps)
		}
		out = append(out, proto.Method{Idx: fm.Idx, Name: fm.Name, Params: params, Since: fm.Since})
	}
	return out, nil
}
