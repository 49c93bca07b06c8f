package circbuf

import "testing"

func TestWriteReadRoundtrip(t *testing.T) {
	cb := MkCircbuf(4)
	if n := cb.Write([]byte("hello")); n != 4 {
		t.Fatalf("expected short write of 4, got %d", n)
	}
	if !cb.Full() {
		t.Fatal("expected full")
	}
	buf := make([]byte, 4)
	if n := cb.Read(buf); n != 4 || string(buf) != "hell" {
		t.Fatalf("got %d %q", n, buf)
	}
	if !cb.Empty() {
		t.Fatal("expected empty")
	}
}

func TestWraparound(t *testing.T) {
	cb := MkCircbuf(4)
	cb.Write([]byte("ab"))
	buf := make([]byte, 1)
	cb.Read(buf)
	cb.Write([]byte("cd"))
	out := make([]byte, 3)
	n := cb.Read(out)
	if n != 3 || string(out) != "bcd" {
		t.Fatalf("got %d %q", n, out)
	}
}

func TestPeekDiscard(t *testing.T) {
	cb := MkCircbuf(8)
	cb.Write([]byte("line1\n"))
	p := cb.Peek(6)
	if string(p) != "line1\n" {
		t.Fatalf("peek mismatch: %q", p)
	}
	if cb.Used() != 6 {
		t.Fatal("peek must not consume")
	}
	cb.Discard(6)
	if !cb.Empty() {
		t.Fatal("expected empty after discard")
	}
}
