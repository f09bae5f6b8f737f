package stats

import (
	"testing"
	"time"
)

func TestResolveThreadtimeAnchorsYear(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	got, ok := ResolveThreadtime("01-05 00:10:00.000", start, end)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Year() != 2026 {
		t.Fatalf("expected year 2026, got %d", got.Year())
	}
}

func TestResolveThreadtimeRollsForwardAcrossNewYear(t *testing.T) {
	start := time.Date(2025, 12, 31, 23, 50, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	got, ok := ResolveThreadtime("01-01 00:05:00.000", start, end)
	if !ok {
		t.Fatalf("expected ok, got out-of-range")
	}
	if got.Year() != 2026 {
		t.Fatalf("expected rolled-forward year 2026, got %d: %v", got.Year(), got)
	}
}

func TestResolveThreadtimeOutOfRange(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	_, ok := ResolveThreadtime("01-01 00:00:00.000", start, end)
	if ok {
		t.Fatalf("expected out-of-range rejection")
	}
}

func TestQuantileMedianOfThree(t *testing.T) {
	xs := SortedCopy([]float64{22.5, 9.4, 11.2})
	if got := Median(xs); got != 11.2 {
		t.Fatalf("expected median 11.2, got %v", got)
	}
}

func TestQuantileEdges(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	if got := Quantile(xs, 0); got != 1 {
		t.Fatalf("q=0 want 1 got %v", got)
	}
	if got := Quantile(xs, 1); got != 4 {
		t.Fatalf("q=1 want 4 got %v", got)
	}
}

func TestLowerBoundUpperBound(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second), base.Add(2 * time.Second)}
	if got := LowerBound(ts, base.Add(2*time.Second)); got != 2 {
		t.Fatalf("lower bound want 2 got %d", got)
	}
	if got := UpperBound(ts, base.Add(2*time.Second)); got != 4 {
		t.Fatalf("upper bound want 4 got %d", got)
	}
	if got := LowerBound(ts, base.Add(500*time.Millisecond)); got != 1 {
		t.Fatalf("lower bound want 1 got %d", got)
	}
}

func TestCountInWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{base, base.Add(3 * time.Second), base.Add(10 * time.Second)}
	got := CountInWindow(ts, base.Add(3*time.Second), 2*time.Second)
	if got != 1 {
		t.Fatalf("want 1 got %d", got)
	}
}

func TestScorePeriodicityPicksClosestTarget(t *testing.T) {
	gaps := []float64{58, 61, 59, 60, 62}
	res := ScorePeriodicity(gaps)
	if res.TargetSec != 60 {
		t.Fatalf("expected target 60, got %v", res.TargetSec)
	}
	if res.BestRatio != 1.0 {
		t.Fatalf("expected ratio 1.0, got %v", res.BestRatio)
	}
}

func TestHistogramAndTopN(t *testing.T) {
	xs := []float64{1, 1.2, 31, 31.5, 31.9, 61}
	bins := Histogram(xs, 30)
	top := TopNBins(bins, 1)
	if len(top) != 1 || top[0].Count != 3 {
		t.Fatalf("expected top bin count 3, got %+v", top)
	}
}

func TestGapDigestQuantiles(t *testing.T) {
	d := NewGapDigest()
	for _, g := range []float64{10, 20, 30, 40, 50} {
		d.Add(g)
	}
	if d.Count() != 5 {
		t.Fatalf("expected count 5, got %d", d.Count())
	}
	if got := d.Quantile(0.5); got < 25 || got > 35 {
		t.Fatalf("expected median near 30, got %v", got)
	}
}
