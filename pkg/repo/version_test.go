package repo

import "testing"

func TestBump(t *testing.T) {
	cases := []struct {
		in   string
		kind BumpKind
		want string
	}{
		{"1.0.0", BumpPatch, "1.0.1"},
		{"1.0.9", BumpPatch, "1.0.10"},
		{"1.2.3", BumpMinor, "1.3.0"},
		{"1.2.3", BumpMajor, "2.0.0"},
		{"garbage", BumpPatch, "1.0.0"},
		{"1.2", BumpMinor, "1.0.0"},
	}
	for _, c := range cases {
		if got := Bump(c.in, c.kind); got != c.want {
			t.Errorf("Bump(%q, %s) = %q, want %q", c.in, c.kind, got, c.want)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.10.0", "1.9.0", 1},
		{"2.0.0", "1.99.99", 1},
	}
	for _, c := range cases {
		if got := CompareVersions(c.a, c.b); got != c.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
