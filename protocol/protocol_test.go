// Copyright 2026 Tizen Display Team. All rights reserved.

package protocol

import (
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	frame := NewMessage(7, VblankWaitVblank).
		PutUint32(1).PutUint32(123).PutUint32(456).PutUint32(2).Bytes()

	m, n, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("consumed %d, want %d", n, len(frame))
	}
	if m.Object != 7 || m.Opcode != VblankWaitVblank {
		t.Fatalf("header = (%d, %d), want (7, %d)", m.Object, m.Opcode, VblankWaitVblank)
	}
	for i, want := range []uint32{1, 123, 456, 2} {
		got, err := m.Uint32()
		if err != nil {
			t.Fatalf("arg %d: %v", i, err)
		}
		if got != want {
			t.Errorf("arg %d = %d, want %d", i, got, want)
		}
	}
	if _, err := m.Uint32(); err == nil {
		t.Error("reading past the payload succeeded")
	}
}

func TestStringPadding(t *testing.T) {
	for _, s := range []string{"", "a", "abc", "abcd", "primary"} {
		frame := NewMessage(1, RootCreateOutput).PutUint32(2).PutString(s).PutUint32(9).Bytes()
		m, _, err := Decode(frame)
		if err != nil {
			t.Fatalf("%q: Decode: %v", s, err)
		}
		if id, _ := m.Uint32(); id != 2 {
			t.Fatalf("%q: id = %d", s, id)
		}
		got, err := m.String()
		if err != nil {
			t.Fatalf("%q: String: %v", s, err)
		}
		if got != s {
			t.Errorf("string = %q, want %q", got, s)
		}
		if tail, _ := m.Uint32(); tail != 9 {
			t.Errorf("%q: trailing arg = %d, want 9", s, tail)
		}
	}
}

func TestDecodeShortAndPipelined(t *testing.T) {
	a := NewMessage(1, RootSync).PutUint32(1).Bytes()
	b := NewMessage(2, OutputDestroy).Bytes()
	stream := append(append([]byte{}, a...), b...)

	if _, _, err := Decode(stream[:5]); err != ErrShortFrame {
		t.Fatalf("partial header: %v, want ErrShortFrame", err)
	}
	if _, _, err := Decode(stream[:len(a)-1]); err != ErrShortFrame {
		t.Fatalf("partial body: %v, want ErrShortFrame", err)
	}

	m1, n1, err := Decode(stream)
	if err != nil || m1.Object != 1 {
		t.Fatalf("first frame: %v object %d", err, m1.Object)
	}
	m2, n2, err := Decode(stream[n1:])
	if err != nil || m2.Object != 2 || m2.Opcode != OutputDestroy {
		t.Fatalf("second frame: %v object %d opcode %d", err, m2.Object, m2.Opcode)
	}
	if n1+n2 != len(stream) {
		t.Fatalf("consumed %d, want %d", n1+n2, len(stream))
	}
}

func TestDecodeMalformed(t *testing.T) {
	frame := NewMessage(1, 0).Bytes()
	frame[6] = 3 // size below header length
	frame[7] = 0
	if _, _, err := Decode(frame); err != ErrMalformed {
		t.Fatalf("undersized frame: %v, want ErrMalformed", err)
	}
}
