package proto

import (
	"testing"

	"vaxipc/vaxerr"
)

func TestParseNameVersion(t *testing.T) {
	name, version, err := ParseNameVersion("demo@1")
	if err != nil {
		t.Fatalf("ParseNameVersion failed: %v", err)
	}
	if name != "demo" || version != 1 {
		t.Fatalf("got (%q, %d), want (\"demo\", 1)", name, version)
	}
}

func TestParseNameVersionMalformed(t *testing.T) {
	cases := []string{"missing-at-sign", "@1", "demo@notanumber", ""}
	for _, c := range cases {
		_, _, err := ParseNameVersion(c)
		if err == nil {
			t.Fatalf("ParseNameVersion(%q) should have failed", c)
		}
		fatal, ok := err.(*vaxerr.FatalError)
		if !ok {
			t.Fatalf("ParseNameVersion(%q) err type = %T, want *vaxerr.FatalError", c, err)
		}
		if fatal.Idx != vaxerr.InvalidProtocolSpec {
			t.Fatalf("ParseNameVersion(%q) idx = %v, want InvalidProtocolSpec", c, fatal.Idx)
		}
	}
}

func TestTableLookupAndAdvertise(t *testing.T) {
	specs := []ProtocolSpec{
		{Name: "demo", Version: 1},
		{Name: "other", Version: 2},
	}
	table := NewTable(specs)

	spec, ok := table.Lookup("demo@1")
	if !ok || spec.Name != "demo" {
		t.Fatalf("Lookup(demo@1) = (%v, %v)", spec, ok)
	}

	_, ok = table.Lookup("missing@1")
	if ok {
		t.Fatalf("Lookup(missing@1) should fail")
	}

	adv := table.Advertised()
	if len(adv) != 2 || adv[0] != "demo@1" || adv[1] != "other@2" {
		t.Fatalf("Advertised() = %v", adv)
	}
}

func TestFindMethod(t *testing.T) {
	obj := ObjectSpec{
		ObjectName: "demo_object",
		C2S: []Method{
			{Idx: 0, Name: "greet", Params: []ParamSpec{}},
		},
		S2C: []Method{
			{Idx: 0, Name: "pong", Params: []ParamSpec{}},
		},
	}

	m, ok := obj.FindMethod(0, true)
	if !ok || m.Name != "greet" {
		t.Fatalf("FindMethod(0, server) = (%v, %v)", m, ok)
	}
	m, ok = obj.FindMethod(0, false)
	if !ok || m.Name != "pong" {
		t.Fatalf("FindMethod(0, client) = (%v, %v)", m, ok)
	}
	_, ok = obj.FindMethod(99, true)
	if ok {
		t.Fatalf("FindMethod(99) should fail")
	}
}
