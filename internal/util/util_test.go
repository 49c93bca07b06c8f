package util

import "testing"

func TestRoundupRounddown(t *testing.T) {
	cases := []struct{ v, b, up, down int }{
		{0, 4096, 0, 0},
		{1, 4096, 4096, 0},
		{4096, 4096, 4096, 4096},
		{4097, 4096, 8192, 4096},
	}
	for _, c := range cases {
		if got := Roundup(c.v, c.b); got != c.up {
			t.Errorf("Roundup(%d,%d) = %d, want %d", c.v, c.b, got, c.up)
		}
		if got := Rounddown(c.v, c.b); got != c.down {
			t.Errorf("Rounddown(%d,%d) = %d, want %d", c.v, c.b, got, c.down)
		}
	}
}

func TestMinMax(t *testing.T) {
	if Min(3, 5) != 3 || Min(5, 3) != 3 {
		t.Fatal("Min wrong")
	}
	if Max(3, 5) != 5 || Max(5, 3) != 5 {
		t.Fatal("Max wrong")
	}
}

func TestReadnWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 4, 0, 0xdeadbeef)
	if got := Readn(buf, 4, 0); got != int(uint32(0xdeadbeef)) {
		t.Fatalf("Readn/Writen roundtrip failed: got %#x", got)
	}
	Writen(buf, 2, 8, 0x1234)
	if got := Readn(buf, 2, 8); got != 0x1234 {
		t.Fatalf("Readn/Writen 16-bit roundtrip failed: got %#x", got)
	}
}
