package params

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		in   Value
		want string
	}{
		{nil, ""},
		{"a", "a"},
		{3, "3"},
		{int64(-7), "-7"},
		{2.5, "2.5"},
		{float64(4), "4"},
		{true, "true"},
		{[]Value{1, "x", 0.25}, "[1, x, 0.25]"},
		{[]int{0, 2, 4}, "[0, 2, 4]"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordKeyIgnoresOrder(t *testing.T) {
	a := NewRecord(Pair{"threads", 2}, Pair{"impl", "a"})
	b := NewRecord(Pair{"impl", "a"}, Pair{"threads", 2})
	if !a.Equal(b) {
		t.Errorf("records with same pairs should be equal: %s vs %s", a.Key(), b.Key())
	}
	if a.Key() != `"impl"="a";"threads"="2"` {
		t.Errorf("Key() = %q", a.Key())
	}

	c := NewRecord(Pair{"impl", "a"}, Pair{"threads", 3})
	if a.Equal(c) {
		t.Error("records with different values should differ")
	}
}

func TestRecordKeySeparatorsInValues(t *testing.T) {
	// Without quoting, both records would read a=1;b=2;b=3.
	a := NewRecord(Pair{"a", "1;b=2"}, Pair{"b", "3"})
	b := NewRecord(Pair{"a", "1"}, Pair{"b", "2;b=3"})
	if a.Key() == b.Key() {
		t.Errorf("distinct records share key %q", a.Key())
	}
	if a.Equal(b) {
		t.Error("records with separators in values should differ")
	}

	c := NewRecord(Pair{"x=1;y", "2"})
	d := NewRecord(Pair{"x", "1;y=2"})
	if c.Key() == d.Key() {
		t.Errorf("distinct records share key %q", c.Key())
	}
}

func TestRecordSubsetAndMerge(t *testing.T) {
	rec := NewRecord(Pair{"threads", 2}, Pair{"impl", "a"}, Pair{"size", 64})

	sub := rec.Subset([]string{"size", "threads", "missing"})
	if diff := cmp.Diff([]string{"size", "threads"}, sub.Names()); diff != "" {
		t.Errorf("Subset names mismatch (-want +got):\n%s", diff)
	}

	merged := NewRecord(Pair{"bench", "x"}).Merge(rec)
	if merged.Len() != 4 || merged.Str("bench") != "x" || merged.Str("size") != "64" {
		t.Errorf("Merge() = %s", merged)
	}

	override := rec.Merge(NewRecord(Pair{"threads", 8}))
	if n, _ := override.Int("threads"); n != 8 {
		t.Errorf("Merge override threads = %d, want 8", n)
	}
}

func TestRecordAccessors(t *testing.T) {
	rec := FromMap(map[string]Value{"n": "12", "f": 1.5, "s": "x"})
	if n, err := rec.Int("n"); err != nil || n != 12 {
		t.Errorf("Int(n) = %d, %v", n, err)
	}
	if f, err := rec.Float("f"); err != nil || f != 1.5 {
		t.Errorf("Float(f) = %v, %v", f, err)
	}
	if _, err := rec.Int("s"); err == nil {
		t.Error("Int(s) should fail")
	}
	if _, err := rec.Int("absent"); err == nil {
		t.Error("Int(absent) should fail")
	}
	if diff := cmp.Diff([]string{"f", "n", "s"}, rec.Names()); diff != "" {
		t.Errorf("FromMap names mismatch (-want +got):\n%s", diff)
	}
}
