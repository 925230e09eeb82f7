package internaldefs

import (
	"strings"
	"testing"
)

func TestCounterDefsUniqueAndPrefixed(t *testing.T) {
	seen := map[string]bool{}
	ids := map[uint16]bool{}
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "storeauth_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		if seen[def.Name] || ids[uint16(def.ID)] {
			t.Fatalf("duplicate counter %q", def.Name)
		}
		seen[def.Name] = true
		ids[uint16(def.ID)] = true
	}
}

func TestBucketHelpers(t *testing.T) {
	raw := NormalizeBuckets([]uint64{1, 2, 3})
	cum := CumulativeBuckets(raw)
	if cum[2] != 6 || cum[7] != 6 {
		t.Fatalf("unexpected cumulative buckets %v", cum)
	}
	if len(HistogramBoundSuffix) != len(HistogramUpperBounds)+1 {
		t.Fatal("suffixes must cover every bucket plus +Inf")
	}
	if got := ApproximateSum([8]uint64{0, 0, 0, 0, 0, 2}); got != 2 {
		t.Fatalf("ApproximateSum = %v, want 2", got)
	}
}
