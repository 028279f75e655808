package httpapi

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncrementBackpressure_IncrementsCounter(t *testing.T) {
	for _, reason := range []string{"queue", "vram"} {
		before := testutil.ToFloat64(backpressureTotal.WithLabelValues(reason))
		IncrementBackpressure(reason)
		IncrementBackpressure(reason)
		if got := testutil.ToFloat64(backpressureTotal.WithLabelValues(reason)); got < before+2 {
			t.Fatalf("reason=%s: expected >= %v, got %v", reason, before+2, got)
		}
	}

	// Empty reason should default to "unspecified"
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	after := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	if after < before+1 {
		t.Fatalf("expected unspecified reason to increment by at least 1: before=%v after=%v", before, after)
	}
}
