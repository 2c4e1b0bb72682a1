package gpu

import "testing"

func TestAlign16(t *testing.T) {
	cases := []struct{ in, want uint64 }{
		{0, 0},
		{1, 16},
		{16, 16},
		{17, 32},
		{31, 32},
	}
	for _, c := range cases {
		if got := align16(c.in); got != c.want {
			t.Errorf("align16(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestDivCeil(t *testing.T) {
	cases := []struct{ n, d, want uint32 }{
		{10, 5, 2},
		{11, 5, 3},
		{0, 5, 0},
		{5, 5, 1},
	}
	for _, c := range cases {
		if got := divCeil(c.n, c.d); got != c.want {
			t.Errorf("divCeil(%d,%d) = %d, want %d", c.n, c.d, got, c.want)
		}
	}
}

func TestNzFloorsToOne(t *testing.T) {
	if got := nz(0); got != 1 {
		t.Errorf("nz(0) = %d, want 1", got)
	}
	if got := nz(4); got != 4 {
		t.Errorf("nz(4) = %d, want 4", got)
	}
}
