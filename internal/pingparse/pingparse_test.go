package pingparse

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

type fixedResolver struct{}

func (fixedResolver) PhaseAt(ts time.Time) model.Phase { return model.PhaseStream }
func (fixedResolver) InSessionAt(ts time.Time) bool    { return true }

func TestParseDeviceLogWithPrefixEpoch(t *testing.T) {
	lines := []string{
		`[ts_local=2026-06-01T10:00:00.000+00:00][epoch_ms=1748772000000][source=device_side_ping] 64 bytes from 1.2.3.4: icmp_seq=1 ttl=64 time=12.3 ms`,
		`[ts_local=2026-06-01T10:00:01.000+00:00][epoch_ms=1748772001000][source=device_side_ping] icmp_seq=2`,
	}
	res := ParseDeviceLog(lines, ParseOptions{Resolver: fixedResolver{}})
	if len(res.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(res.Samples))
	}
	if !res.Samples[0].Success || res.Samples[0].TSSource != model.TSSourceLogPrefixEpoch {
		t.Fatalf("sample 0 mismatch: %+v", res.Samples[0])
	}
	if res.Samples[1].Success {
		t.Fatalf("sample 1 should be no_reply: %+v", res.Samples[1])
	}
}

func TestParseDeviceLogPingDFallback(t *testing.T) {
	lines := []string{
		`[1700000000.500] 64 bytes from 1.2.3.4: icmp_seq=1 ttl=64 time=10.0 ms`,
	}
	res := ParseDeviceLog(lines, ParseOptions{Resolver: fixedResolver{}})
	if len(res.Samples) != 1 || res.Samples[0].TSSource != model.TSSourcePingD {
		t.Fatalf("expected ping_D tsSource, got %+v", res.Samples)
	}
}

func TestParseDeviceLogSeqEstimatedFallback(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	lines := []string{
		"icmp_seq=1 time=10.0 ms",
		"icmp_seq=2 time=11.0 ms",
	}
	res := ParseDeviceLog(lines, ParseOptions{CaptureStartTS: start, IntervalSec: 1, Resolver: fixedResolver{}})
	if len(res.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(res.Samples))
	}
	if res.Samples[0].TSSource != model.TSSourceSeqEstimated {
		t.Fatalf("expected seq_estimated, got %v", res.Samples[0].TSSource)
	}
	if !res.Samples[1].TS.Equal(start.Add(time.Second)) {
		t.Fatalf("expected second sample at +1s, got %v", res.Samples[1].TS)
	}
}

func TestParseDeviceLogSkipsWithNoTimestampSource(t *testing.T) {
	lines := []string{"icmp_seq=1 time=10.0 ms"}
	res := ParseDeviceLog(lines, ParseOptions{Resolver: fixedResolver{}})
	if len(res.Samples) != 0 || res.SkippedNoTsCount != 1 {
		t.Fatalf("expected sample skipped, got %+v skipped=%d", res.Samples, res.SkippedNoTsCount)
	}
}

func TestParseHostSideLogPairsSentRcvdBySeq(t *testing.T) {
	lines := []string{
		`[ts_local=2026-06-01T10:00:00.000+00:00][epoch_ms=1748772000000][source=host_side_ping] SENT (0.0010s) ICMP 1.2.3.4 seq=1`,
		`[ts_local=2026-06-01T10:00:00.020+00:00][epoch_ms=1748772000020][source=host_side_ping] RCVD (0.0210s) ICMP 1.2.3.4 seq=1`,
	}
	res := ParseHostSideLog(lines, ParseOptions{IntervalSec: 1, Resolver: fixedResolver{}})
	if len(res.Samples) != 1 || !res.Samples[0].Success {
		t.Fatalf("expected one successful paired sample, got %+v", res.Samples)
	}
	if *res.Samples[0].LatencyMs < 19 || *res.Samples[0].LatencyMs > 21 {
		t.Fatalf("expected ~20ms latency, got %v", *res.Samples[0].LatencyMs)
	}
	if res.Transmitted != 1 || res.Received != 1 {
		t.Fatalf("expected transmitted=1 received=1, got %+v", res)
	}
}

func TestParseHostSideLogUnmatchedSentBecomesNoReply(t *testing.T) {
	lines := []string{
		`[ts_local=2026-06-01T10:00:00.000+00:00][epoch_ms=1748772000000][source=host_side_ping] SENT (0.0010s) ICMP 1.2.3.4 seq=1`,
	}
	res := ParseHostSideLog(lines, ParseOptions{IntervalSec: 1, Resolver: fixedResolver{}})
	if len(res.Samples) != 1 || res.Samples[0].Success {
		t.Fatalf("expected one no_reply sample, got %+v", res.Samples)
	}
	if res.PacketLossPct != 100 {
		t.Fatalf("expected 100%% loss, got %v", res.PacketLossPct)
	}
}

func TestJitterEventsOnLargeDelta(t *testing.T) {
	lines := []string{
		`[ts_local=2026-06-01T10:00:00.000+00:00][epoch_ms=1748772000000][source=device_side_ping] icmp_seq=1 time=10.0 ms`,
		`[ts_local=2026-06-01T10:00:01.000+00:00][epoch_ms=1748772001000][source=device_side_ping] icmp_seq=2 time=30.0 ms`,
	}
	res := ParseDeviceLog(lines, ParseOptions{Resolver: fixedResolver{}})
	if len(res.JitterEvents) != 1 {
		t.Fatalf("expected one jitter event, got %+v", res.JitterEvents)
	}
	if res.JitterEvents[0].DeltaMs != 20 {
		t.Fatalf("expected delta 20, got %v", res.JitterEvents[0].DeltaMs)
	}
}

func TestHighLatencyBurstsSplitOnGap(t *testing.T) {
	lines := []string{
		`[ts_local=2026-06-01T10:00:00.000+00:00][epoch_ms=1748772000000][source=device_side_ping] icmp_seq=1 time=50.0 ms`,
		`[ts_local=2026-06-01T10:00:00.500+00:00][epoch_ms=1748772000500][source=device_side_ping] icmp_seq=2 time=55.0 ms`,
		`[ts_local=2026-06-01T10:00:05.000+00:00][epoch_ms=1748772005000][source=device_side_ping] icmp_seq=3 time=52.0 ms`,
		`[ts_local=2026-06-01T10:00:06.000+00:00][epoch_ms=1748772006000][source=device_side_ping] icmp_seq=4 time=10.0 ms`,
		`[ts_local=2026-06-01T10:00:07.000+00:00][epoch_ms=1748772007000][source=device_side_ping] icmp_seq=5 time=10.0 ms`,
		`[ts_local=2026-06-01T10:00:08.000+00:00][epoch_ms=1748772008000][source=device_side_ping] icmp_seq=6 time=10.0 ms`,
		`[ts_local=2026-06-01T10:00:09.000+00:00][epoch_ms=1748772009000][source=device_side_ping] icmp_seq=7 time=10.0 ms`,
	}
	res := ParseDeviceLog(lines, ParseOptions{Resolver: fixedResolver{}})
	if len(res.HighLatencyBursts) != 2 {
		t.Fatalf("expected 2 bursts split by >1200ms gap, got %+v", res.HighLatencyBursts)
	}
	if res.HighLatencyBursts[0].Count != 2 {
		t.Fatalf("expected first burst to have 2 samples, got %+v", res.HighLatencyBursts[0])
	}
}
