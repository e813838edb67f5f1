package internaldefs

import "testing"

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("CumulativeBuckets = %v, want %v", got, want)
	}
}

func TestCounterNamesUnique(t *testing.T) {
	seen := make(map[string]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		if seen[def.Name] {
			t.Fatalf("duplicate counter name %q", def.Name)
		}
		seen[def.Name] = true
	}
	if len(HistogramBounds) != 7 {
		t.Fatalf("expected 7 finite bounds, got %d", len(HistogramBounds))
	}
}
