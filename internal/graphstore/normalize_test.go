package graphstore

import "testing"

func TestNormalizeNumeric_Variants(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{int64(42), 42, true},
		{int32(7), 7, true},
		{float64(3.5), 3.5, true},
		{"12", 12, true},
		{"not a number", 0, false},
		{nil, 0, false},
	}
	for _, c := range cases {
		got, ok := NormalizeNumeric(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("NormalizeNumeric(%#v) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestNormalizeInt(t *testing.T) {
	got, ok := NormalizeInt(int64(99))
	if !ok || got != 99 {
		t.Fatalf("NormalizeInt() = (%d, %v), want (99, true)", got, ok)
	}
}
