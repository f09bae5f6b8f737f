package logcat

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func TestParseLineThreadtime(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	raw := "06-01 10:15:20.123  1234  1256 I WifiStateMachine: roaming to new BSSID"
	l, ok := ParseLine(raw, start, end)
	if !ok {
		t.Fatalf("expected line to parse")
	}
	if l.Tag != "WifiStateMachine" {
		t.Fatalf("tag mismatch: %q", l.Tag)
	}
	if l.Message != "roaming to new BSSID" {
		t.Fatalf("message mismatch: %q", l.Message)
	}
	want := time.Date(2026, 6, 1, 10, 15, 20, 123000000, time.UTC)
	if !l.TS.Equal(want) {
		t.Fatalf("ts mismatch: got %v want %v", l.TS, want)
	}
}

func TestParseLineRejectsMalformed(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	if _, ok := ParseLine("not a logcat line at all", start, end); ok {
		t.Fatalf("expected malformed line to fail parse")
	}
}

func TestClassifyRoamRequiresWifiContext(t *testing.T) {
	l := Line{Tag: "WifiStateMachine", Message: "roaming to new BSSID 00:11:22"}
	c := Classify(l)
	if len(c.Events) != 1 || c.Events[0].Type != model.EventRoam {
		t.Fatalf("expected one ROAM event, got %+v", c)
	}
}

func TestClassifyRoamIgnoredOutsideWifiContext(t *testing.T) {
	l := Line{Tag: "BluetoothAdapter", Message: "roaming scan requested"}
	c := Classify(l)
	if len(c.Events) != 0 {
		t.Fatalf("expected no events for non-wifi roam mention, got %+v", c)
	}
}

func TestClassifyWifiOnOff(t *testing.T) {
	on := Classify(Line{Tag: "WifiService", Message: "Wi-Fi is enabled"})
	if len(on.Events) != 1 || on.Events[0].Type != model.EventWifiOn {
		t.Fatalf("expected WIFI_ON, got %+v", on)
	}
	off := Classify(Line{Tag: "WifiService", Message: "Wi-Fi is disabled"})
	if len(off.Events) != 1 || off.Events[0].Type != model.EventWifiOff {
		t.Fatalf("expected WIFI_OFF, got %+v", off)
	}
}

func TestClassifyDozeEnterExit(t *testing.T) {
	enter := Classify(Line{Tag: "DeviceIdleController", Message: "Doze enabled, entering idle"})
	found := false
	for _, e := range enter.Events {
		if e.Type == model.EventDozeEnter {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected DOZE_ENTER among %+v", enter)
	}
}

func TestClassifyNoiseDropReasons(t *testing.T) {
	cases := []struct {
		msg    string
		reason string
	}{
		{"dumpsys wifi invoked for snapshot", NoiseDumpsysSelf},
		{"binder: initializing driver state", NoiseBinderInit},
		{"polling for preconnect readiness", NoisePreconnectPoll},
	}
	for _, c := range cases {
		got := Classify(Line{Message: c.msg})
		if got.DropReason != c.reason {
			t.Fatalf("msg %q: expected drop reason %q, got %q", c.msg, c.reason, got.DropReason)
		}
		if len(got.Events) != 0 {
			t.Fatalf("dropped line should carry no events: %+v", got)
		}
	}
}

func TestClassifyUninterestingLineIsEmpty(t *testing.T) {
	c := Classify(Line{Tag: "SomeApp", Message: "just a regular debug line"})
	if len(c.Events) != 0 || c.DropReason != "" {
		t.Fatalf("expected empty classification, got %+v", c)
	}
}

func TestClassifyEventsCarryTimestampAndSource(t *testing.T) {
	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	l := Line{TS: ts, Tag: "WifiStateMachine", Message: "roaming now", Raw: "raw line"}
	c := Classify(l)
	if len(c.Events) != 1 {
		t.Fatalf("expected one event, got %+v", c)
	}
	e := c.Events[0]
	if !e.TS.Equal(ts) || e.Source != model.SourceLogcat || e.RawLine != "raw line" {
		t.Fatalf("event fields mismatch: %+v", e)
	}
}
