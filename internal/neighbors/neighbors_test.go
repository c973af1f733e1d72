package neighbors

import (
	"reflect"
	"testing"
)

func newExpander(t *testing.T) *Expander {
	t.Helper()
	e, err := New(1, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestExpand_FullRing(t *testing.T) {
	e := newExpander(t)
	got := e.Expand("9q8yyk")
	want := []string{"9q8yy5", "9q8yy7", "9q8yye", "9q8yyh", "9q8yyj", "9q8yyk", "9q8yym", "9q8yys", "9q8yyt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand(9q8yyk)=%v want %v", got, want)
	}
}

func TestExpand_AlwaysContainsCenter(t *testing.T) {
	e := newExpander(t)
	for _, key := range []string{"9q8yyk", "u6sce0", "s", "00000", "zzzzz", "9q8yyk8yt"} {
		out := e.Expand(key)
		found := false
		for _, k := range out {
			if k == key {
				found = true
			}
		}
		if !found {
			t.Fatalf("Expand(%q)=%v does not contain center", key, out)
		}
		if len(out) < 1 || len(out) > 9 {
			t.Fatalf("Expand(%q) size %d outside [1,9]", key, len(out))
		}
	}
}

func TestExpand_PoleCornerCollapses(t *testing.T) {
	e := newExpander(t)
	// south pole / antimeridian corner: offsets below -90 are skipped and the
	// west neighbors wrap across the antimeridian
	got := e.Expand("00000")
	want := []string{"00000", "00001", "00002", "00003", "pbpbp", "pbpbr"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand(00000)=%v want %v", got, want)
	}

	// north pole corner
	got = e.Expand("zzzzz")
	want = []string{"bpbp8", "bpbpb", "zzzzw", "zzzzx", "zzzzy", "zzzzz"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand(zzzzz)=%v want %v", got, want)
	}
}

func TestExpand_DegenerateInputPassesThrough(t *testing.T) {
	e, err := New(3, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"", "9q", "not-a-key!"} {
		got := e.Expand(key)
		if len(got) != 1 || got[0] != key {
			t.Fatalf("Expand(%q)=%v want single-element passthrough", key, got)
		}
	}
}

func TestExpand_Memoized(t *testing.T) {
	e := newExpander(t)
	first := e.Expand("u6sce0")
	second := e.Expand("u6sce0")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("memoized result differs: %v vs %v", first, second)
	}
}

func TestExpand_ReturnedSliceIsCallerOwned(t *testing.T) {
	e := newExpander(t)
	want := append([]string(nil), e.Expand("9q8yyk")...)

	first := e.Expand("9q8yyk")
	for i := range first {
		first[i] = "mutated"
	}

	if got := e.Expand("9q8yyk"); !reflect.DeepEqual(got, want) {
		t.Fatalf("memo corrupted by caller mutation: %v want %v", got, want)
	}
}
