package eventstore

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func mkEvent(typ model.EventType, offsetMs int) model.Event {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.Event{Type: typ, TS: base.Add(time.Duration(offsetMs) * time.Millisecond)}
}

func TestAddKeepsSortedAndDedupes(t *testing.T) {
	s := New()
	if !s.Add(mkEvent(model.EventRoam, 0)) {
		t.Fatalf("expected first roam kept")
	}
	if s.Add(mkEvent(model.EventRoam, 1000)) {
		t.Fatalf("expected second roam within 3s window dropped")
	}
	if !s.Add(mkEvent(model.EventRoam, 4000)) {
		t.Fatalf("expected third roam outside window kept")
	}
	ts := s.Timestamps(model.EventRoam)
	for i := 1; i < len(ts); i++ {
		if ts[i].Before(ts[i-1]) {
			t.Fatalf("timestamps not sorted: %v", ts)
		}
	}
	if s.Count(model.EventRoam) != 2 {
		t.Fatalf("expected 2 kept roam events, got %d", s.Count(model.EventRoam))
	}
}

func TestAddZeroWindowNeverDedupes(t *testing.T) {
	s := New()
	s.Add(mkEvent(model.EventScan, 0))
	if !s.Add(mkEvent(model.EventScan, 1)) {
		t.Fatalf("expected second scan kept (zero dedup window)")
	}
	if s.Count(model.EventScan) != 2 {
		t.Fatalf("expected 2 kept, got %d", s.Count(model.EventScan))
	}
}

func TestAllIsGloballySorted(t *testing.T) {
	s := New()
	s.Add(mkEvent(model.EventWifiOn, 5000))
	s.Add(mkEvent(model.EventConnect, 0))
	s.Add(mkEvent(model.EventDHCP, 2000))
	all := s.All()
	for i := 1; i < len(all); i++ {
		if all[i].TS.Before(all[i-1].TS) {
			t.Fatalf("All() not sorted: %+v", all)
		}
	}
}

func TestOutOfOrderInsertionDedup(t *testing.T) {
	s := New()
	s.Add(mkEvent(model.EventRoam, 4000))
	if s.Add(mkEvent(model.EventRoam, 2500)) {
		t.Fatalf("expected insertion before existing within window to be dropped")
	}
}
