package session

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func TestStrongStartOpensWindowAndActivityExtends(t *testing.T) {
	d := New(ModeAuto, Buffers{})
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	d.Feed(base, "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(8*time.Second), "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(16*time.Second), "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(25*time.Second), "[INTERNAL_STATS] Rx 60 / Rd 60 FPS")
	windows := d.Finish()
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %+v", windows)
	}
	w := windows[0]
	if !w.HasStrongStart || !w.Valid {
		t.Fatalf("expected valid strong-start window, got %+v", w)
	}
	if w.EndTS.Before(base.Add(25 * time.Second)) {
		t.Fatalf("expected activity to extend window end, got %+v", w)
	}
}

func TestEndMarkerClosesWindowImmediately(t *testing.T) {
	d := New(ModeAuto, Buffers{})
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	d.Feed(base, "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(5*time.Second), "connection terminated")
	d.Feed(base.Add(30*time.Second), "[INTERNAL_STATS] fps=60")
	windows := d.Finish()
	if len(windows) != 2 {
		t.Fatalf("expected 2 separate windows, got %+v", windows)
	}
}

func TestGapOver10sOpensNewWindow(t *testing.T) {
	d := New(ModeAuto, Buffers{})
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	d.Feed(base, "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(20*time.Second), "[INTERNAL_STATS] fps=60")
	windows := d.Finish()
	if len(windows) != 2 {
		t.Fatalf("expected a >10s gap to split into two windows (20s apart, merge threshold is <10s), got %+v", windows)
	}
}

func TestWeakStartAloneIsNotValidWithoutActivity(t *testing.T) {
	d := New(ModeAuto, Buffers{})
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	d.Feed(base, "launched session")
	windows := d.Finish()
	if len(windows) != 1 || windows[0].Valid {
		t.Fatalf("expected single invalid window (too short, no strong start), got %+v", windows)
	}
}

func TestModeAllAcceptsEveryWindow(t *testing.T) {
	d := New(ModeAll, Buffers{})
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	d.Feed(base, "launched session")
	windows := d.Finish()
	if len(windows) != 1 || !windows[0].Valid {
		t.Fatalf("expected mode=all to accept the window, got %+v", windows)
	}
}

func TestEffectiveWindowsClipAndMerge(t *testing.T) {
	d := New(ModeAuto, Buffers{Pre: 5 * time.Second, Post: 5 * time.Second})
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	d.Feed(base, "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(8*time.Second), "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(16*time.Second), "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(25*time.Second), "[INTERNAL_STATS] Rx 60 / Rd 60 FPS")
	windows := d.Finish()

	captureStart := base.Add(-time.Minute)
	captureEnd := base.Add(time.Hour)
	eff := d.EffectiveWindows(windows, captureStart, captureEnd)
	if len(eff) != 1 {
		t.Fatalf("expected 1 effective window, got %+v", eff)
	}
	if !eff[0].StartTS.Before(base) {
		t.Fatalf("expected buffer to extend start earlier than %v, got %v", base, eff[0].StartTS)
	}
}

func TestResolverPhaseAtBeforeDuringAfter(t *testing.T) {
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	d := New(ModeAuto, Buffers{})
	d.Feed(base, "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(8*time.Second), "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(16*time.Second), "[INTERNAL_STATS] fps=60")
	d.Feed(base.Add(25*time.Second), "[INTERNAL_STATS] Rx 60 / Rd 60 FPS")
	raw := d.Finish()
	eff := d.EffectiveWindows(raw, base.Add(-time.Hour), base.Add(time.Hour))
	r := NewResolver(raw, eff)

	if r.PhaseAt(base.Add(-time.Minute)) != model.PhasePreconnect {
		t.Fatalf("expected preconnect before window, got %v", r.PhaseAt(base.Add(-time.Minute)))
	}
	if r.PhaseAt(base.Add(10*time.Second)) != model.PhaseStream {
		t.Fatalf("expected stream inside window, got %v", r.PhaseAt(base.Add(10*time.Second)))
	}
	if r.PhaseAt(base.Add(time.Hour)) != model.PhasePost {
		t.Fatalf("expected post after window, got %v", r.PhaseAt(base.Add(time.Hour)))
	}
}
