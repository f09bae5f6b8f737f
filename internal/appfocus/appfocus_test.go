package appfocus

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

type fixedResolver struct {
	phase     model.Phase
	inSession bool
}

func (f fixedResolver) PhaseAt(ts time.Time) model.Phase { return f.phase }
func (f fixedResolver) InSessionAt(ts time.Time) bool     { return f.inSession }

func TestParseInternalStatsGrammar(t *testing.T) {
	msg := "[INTERNAL_STATS] fps_total=60.0 fps_rx=59.5 fps_rd=60.0 loss_frames=1 loss_total=100 " +
		"loss_pct=1.0 loss_events=1 rtt_ms=20.0 rtt_var_ms=5.0 decode_ms=8.0 render_ms=4.0 total_ms=32.0 " +
		"host_lat_min_ms=10.0 host_lat_max_ms=30.0 host_lat_avg_ms=20.0 decoder=hevc hdr=true"
	x := New(fixedResolver{phase: model.PhaseStream, inSession: true}, NoisePolicyBalanced)
	res := x.Process(time.Now(), "MoonlightStream", "MoonlightStream", msg, msg)
	if res.InternalStats == nil {
		t.Fatalf("expected internal stats sample")
	}
	if res.InternalStats.Decoder != "hevc" || !res.InternalStats.HDR {
		t.Fatalf("expected decoder=hevc hdr=true, got %+v", res.InternalStats)
	}
	if len(res.Metrics) != 15 {
		t.Fatalf("expected 15 metric samples from internal stats, got %d", len(res.Metrics))
	}
	if !res.Kept {
		t.Fatalf("expected line to be kept (carries metrics)")
	}
}

func TestLegacyFPSPairExtraction(t *testing.T) {
	x := New(fixedResolver{phase: model.PhaseStream, inSession: true}, NoisePolicyBalanced)
	res := x.Process(time.Now(), "AppLog", "", "fps: 59.9/60", "fps: 59.9/60")
	found := false
	for _, m := range res.Metrics {
		if m.Type == model.MetricFPSPair && m.MetricSource == model.MetricSourceLegacyPattern {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected legacy fps_pair metric, got %+v", res.Metrics)
	}
}

func TestAnomalyDedupeOnTsTypeLine(t *testing.T) {
	x := New(fixedResolver{phase: model.PhaseStream, inSession: true}, NoisePolicyBalanced)
	ts := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	line := "network is unstable, retrying"
	r1 := x.Process(ts, "AppLog", "", line, line)
	if r1.Anomaly == nil {
		t.Fatalf("expected first anomaly to be emitted")
	}
	r2 := x.Process(ts, "AppLog", "", line, line)
	if r2.Anomaly != nil {
		t.Fatalf("expected duplicate anomaly suppressed, got %+v", r2.Anomaly)
	}
}

func TestPreconnectPollingDroppedUnlessConservativeInStream(t *testing.T) {
	x := New(fixedResolver{phase: model.PhaseStream, inSession: true}, NoisePolicyBalanced)
	line := "WARN polling for preconnect readiness"
	res := x.Process(time.Now(), "AppLog", "AppLog", line, line)
	if res.Kept {
		t.Fatalf("expected default-policy preconnect noise dropped in stream phase")
	}

	xc := New(fixedResolver{phase: model.PhaseStream, inSession: true}, NoisePolicyConservative)
	resC := xc.Process(time.Now(), "AppLog", "AppLog", line, line)
	if !resC.Kept {
		t.Fatalf("expected conservative policy to keep preconnect-poll line in stream phase")
	}
}

func TestCELOverrideForceKeepsNoisyLine(t *testing.T) {
	x := NewWithOverride(fixedResolver{phase: model.PhaseStream, inSession: true}, NoisePolicyBalanced,
		`tag == "AppLog" && phase == "stream"`)
	line := "polling for preconnect readiness"
	res := x.Process(time.Now(), "AppLog", "", line, line)
	if !res.Kept {
		t.Fatalf("expected CEL override to force-keep the line")
	}
}

func TestCELOverrideFailsOpenOnBadExpr(t *testing.T) {
	x := NewWithOverride(fixedResolver{phase: model.PhaseStream, inSession: true}, NoisePolicyBalanced,
		`this is not valid cel (((`)
	line := "polling for preconnect readiness"
	res := x.Process(time.Now(), "AppLog", "", line, line)
	if res.Kept {
		t.Fatalf("expected fail-open fallback to the built-in drop decision")
	}
}
