package fleetpublish

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func summaryFixture() model.FleetSummary {
	return model.FleetSummary{
		CaptureID: "cap1", DeviceSerial: "ABC123", GeneratedAtIso: time.Now(),
		TopCause: model.CauseNetworkPathJitter, TopCauseScore: 0.6,
	}
}

func TestKafkaSinkDisabledWithoutBrokers(t *testing.T) {
	s := NewKafkaSink(nil, "")
	if s.Enabled() {
		t.Fatalf("expected disabled sink")
	}
	if err := s.Publish(nil, summaryFixture()); err != nil {
		t.Fatalf("expected no-op publish to succeed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected no-op close to succeed, got %v", err)
	}
}

func TestPulsarSinkDisabledWithoutURL(t *testing.T) {
	s, err := NewPulsarSink("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Enabled() {
		t.Fatalf("expected disabled sink")
	}
	if err := s.Publish(nil, summaryFixture()); err != nil {
		t.Fatalf("expected no-op publish to succeed, got %v", err)
	}
}
