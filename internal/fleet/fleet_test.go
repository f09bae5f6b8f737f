package fleet

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func TestRollupAggregatesWithinWindow(t *testing.T) {
	acc := NewAccumulator()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	acc.Add(model.FleetSummary{CaptureID: "a", GeneratedAtIso: now.Add(-30 * time.Second), SessionCount: 1, TopCause: model.CauseNetworkPathJitter, P95LatencyMs: 20, LossRatePct: 1})
	acc.Add(model.FleetSummary{CaptureID: "b", GeneratedAtIso: now.Add(-2 * time.Hour), SessionCount: 5, TopCause: model.CauseRTTVarianceBurst})

	r := acc.Rollup(now, time.Minute)
	if r.SessionCount != 1 {
		t.Fatalf("expected only the in-window record counted, got sessionCount=%d", r.SessionCount)
	}
	if r.CaptureCount != 1 {
		t.Fatalf("expected 1 capture in window, got %d", r.CaptureCount)
	}
}

func TestRollupTopCausePicksMostFrequent(t *testing.T) {
	acc := NewAccumulator()
	now := time.Now()
	acc.Add(model.FleetSummary{CaptureID: "a", GeneratedAtIso: now, TopCause: model.CauseNetworkPathJitter})
	acc.Add(model.FleetSummary{CaptureID: "b", GeneratedAtIso: now, TopCause: model.CauseNetworkPathJitter})
	acc.Add(model.FleetSummary{CaptureID: "c", GeneratedAtIso: now, TopCause: model.CauseRTTVarianceBurst})

	r := acc.Rollup(now.Add(time.Second), time.Minute)
	if r.TopCause() != model.CauseNetworkPathJitter {
		t.Fatalf("expected network_path_jitter to dominate, got %s", r.TopCause())
	}
}

func TestRollupEmptyAccumulator(t *testing.T) {
	acc := NewAccumulator()
	r := acc.Rollup(time.Now(), time.Minute)
	if r.TopCause() != "" {
		t.Fatalf("expected zero-value cause for empty accumulator")
	}
}
