package otlplogs

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func TestBuildRequestOneLogRecordPerEvent(t *testing.T) {
	events := []model.Event{
		{Type: model.EventScan, TS: time.Now(), Source: model.SourceLogcat, RawLine: "scan started"},
		{Type: model.EventRoam, TS: time.Now(), Source: model.SourceLogcat, RawLine: "roam"},
	}
	req := buildRequest("cap1", events)
	if len(req.ResourceLogs) != 1 {
		t.Fatalf("expected one ResourceLogs batch, got %d", len(req.ResourceLogs))
	}
	got := req.ResourceLogs[0].ScopeLogs[0].LogRecords
	if len(got) != 2 {
		t.Fatalf("expected 2 log records, got %d", len(got))
	}
	if got[0].Body.GetStringValue() != "scan started" {
		t.Fatalf("unexpected body: %v", got[0].Body)
	}
}

func TestSinkDisabledWithoutAddr(t *testing.T) {
	s := New("")
	if s.Enabled() {
		t.Fatalf("expected disabled sink")
	}
	if err := s.Export(nil, "cap1", nil); err != nil {
		t.Fatalf("expected no-op export to succeed, got %v", err)
	}
}
