package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func baseData() Data {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return Data{
		GeneratedAt:  base.Add(10 * time.Minute),
		CaptureDir:   "capture-20260601",
		Mode:         "auto",
		NoisePolicy:  "balanced",
		CaptureStart: base,
		CaptureEnd:   base.Add(5 * time.Minute),
		RawWindows: []model.StreamWindow{
			{ID: 1, StartTS: base, EndTS: base.Add(time.Minute), Score: 0.8, Valid: true},
		},
		EffectiveWindows: []model.EffectiveWindow{
			{ID: 1, StartTS: base, EndTS: base.Add(time.Minute)},
		},
		HasValidSession: true,
		CauseScores: []model.CauseScore{
			{Cause: model.CauseNetworkPathJitter, Score: 0.6, Level: model.LevelMedium, Confidence: model.ConfidenceMedium,
				Evidence: []model.EvidenceRow{{TS: base, Metric: "loss_pct", Value: 1, Detail: "x"}}},
		},
		TotalEventsAll:     10,
		TotalEventsSession: 4,
		TotalEventsOutside: 6,
		DropReasons:        map[string]int{"dumpsys_self_noise": 3},
	}
}

func TestWriteMarkdownValidSession(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, baseData()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"## Availability", "## Stream session identification", "## Cause ranking", "## Noise reduction"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestWriteMarkdownNoValidSession(t *testing.T) {
	d := baseData()
	d.HasValidSession = false
	d.NoValidReason = "no strong start marker observed"
	d.SessionPolicy = PolicyEmptyMain
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "No valid streaming session detected") {
		t.Fatalf("expected no-valid-session banner, got:\n%s", out)
	}
	if strings.Contains(out, "## Cause ranking") {
		t.Fatalf("did not expect cause ranking section when no valid session, got:\n%s", out)
	}
}

func TestWriteMarkdownDegradedBanner(t *testing.T) {
	d := baseData()
	d.Degraded = true
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Degraded analysis") {
		t.Fatalf("expected degraded banner")
	}
}

func TestWriteAppMetricsCSVRoundTripsHeader(t *testing.T) {
	samples := []model.AppMetricSample{
		{TS: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), Type: model.MetricFPSTotal, Value: 59.5, Unit: "fps",
			Phase: model.PhaseStream, InSession: true, Confidence: 0.9, MetricSource: model.MetricSourceInternalStats},
	}
	var buf bytes.Buffer
	if err := WriteAppMetricsCSV(&buf, samples); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ts,type,value") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
}

func TestWritePingSamplesCSVHandlesNilFields(t *testing.T) {
	samples := []model.PingSample{
		{TS: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), Success: false, Status: model.PingNoReply, TSSource: model.TSSourceUnknown, Phase: model.PhaseUnknown},
	}
	var buf bytes.Buffer
	if err := WritePingSamplesCSV(&buf, samples); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "no_reply") {
		t.Fatalf("expected no_reply status in output, got:\n%s", buf.String())
	}
}

func TestBuildManifestRoundTripsJSON(t *testing.T) {
	d := baseData()
	m := BuildManifest(d)
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var back Manifest
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if back.Counts.EventsTotal != 10 {
		t.Fatalf("expected eventsTotal=10, got %d", back.Counts.EventsTotal)
	}
	if len(back.CauseRanking) != 1 {
		t.Fatalf("expected 1 cause score, got %d", len(back.CauseRanking))
	}
}

func TestWriteManifestIsIndentedJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteManifest(&buf, BuildManifest(baseData())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "{\n") {
		t.Fatalf("expected indented JSON, got:\n%s", buf.String())
	}
}
