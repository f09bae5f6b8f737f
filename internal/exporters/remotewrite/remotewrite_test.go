package remotewrite

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/correlate"
	"github.com/streamlens/jitterlens/internal/model"
)

func TestBuildWriteRequestIncludesEventAndCauseSeries(t *testing.T) {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	timeline := []correlate.TimelineMinute{
		{Minute: base.Format("2006-01-02 15:04"), Counts: map[model.EventType]int{model.EventScan: 3}},
	}
	causes := []model.CauseScore{{Cause: model.CauseNetworkPathJitter, Score: 0.7}}

	req := BuildWriteRequest(base, timeline, causes)
	if len(req.Timeseries) == 0 {
		t.Fatalf("expected at least one time series")
	}
	var foundCause bool
	for _, ts := range req.Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "cause" && l.Value == string(model.CauseNetworkPathJitter) {
				foundCause = true
			}
		}
	}
	if !foundCause {
		t.Fatalf("expected a cause series for network_path_jitter")
	}
}

func TestSinkDisabledWithoutURL(t *testing.T) {
	s := New("")
	if s.Enabled() {
		t.Fatalf("expected disabled sink with empty URL")
	}
}
