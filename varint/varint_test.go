package varint

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 127, 128, 300, 16384, MaxProtocolValue}
	for _, n := range cases {
		enc := Encode(n)
		got, consumed, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%v) failed: %v", n, err)
		}
		if got != n {
			t.Errorf("round trip mismatch: got %d, want %d", got, n)
		}
		if consumed != len(enc) {
			t.Errorf("consumed %d, want %d", consumed, len(enc))
		}
	}
}

func TestEncodeZero(t *testing.T) {
	enc := Encode(0)
	if len(enc) != 1 || enc[0] != 0x00 {
		t.Fatalf("Encode(0) = %x, want [0x00]", enc)
	}
}

func TestEncode300(t *testing.T) {
	// Worked example from spec §6: 300 -> 0xAC 0x02
	enc := Encode(300)
	want := []byte{0xAC, 0x02}
	if len(enc) != len(want) || enc[0] != want[0] || enc[1] != want[1] {
		t.Fatalf("Encode(300) = %x, want %x", enc, want)
	}
}

func TestDecodeEmptyBuffer(t *testing.T) {
	_, _, err := Decode(nil)
	if err != ErrBufferTooSmall {
		t.Fatalf("Decode(nil) err = %v, want ErrBufferTooSmall", err)
	}
}

func TestDecodeIncomplete(t *testing.T) {
	// continuation bit set on the only/last byte: truncated mid-varint
	_, _, err := Decode([]byte{0x80})
	if err != ErrIncompleteVarInt {
		t.Fatalf("Decode(truncated) err = %v, want ErrIncompleteVarInt", err)
	}
	_, _, err = Decode([]byte{0xAC})
	if err != ErrIncompleteVarInt {
		t.Fatalf("Decode(truncated) err = %v, want ErrIncompleteVarInt", err)
	}
}

func TestAppendEncode(t *testing.T) {
	dst := []byte{0xFF}
	dst = AppendEncode(dst, 300)
	if len(dst) != 3 || dst[0] != 0xFF || dst[1] != 0xAC || dst[2] != 0x02 {
		t.Fatalf("AppendEncode = %x", dst)
	}
}

func TestMaxValueRoundTrip(t *testing.T) {
	const big uint64 = 1<<35 - 1
	enc := Encode(big)
	got, _, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != big {
		t.Errorf("got %d, want %d", got, big)
	}
}
