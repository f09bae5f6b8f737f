package capture

import (
	"context"
	"testing"

	"github.com/streamlens/jitterlens/internal/config"
	"github.com/streamlens/jitterlens/internal/model"
)

func TestTruncateLinesCapsAtLimit(t *testing.T) {
	body := "a\nb\nc\nd\ne\n"
	out := truncateLines(body, 2)
	if out != "a\nb" {
		t.Fatalf("expected truncated to 2 lines, got %q", out)
	}
}

func TestTruncateLinesNoopUnderLimit(t *testing.T) {
	body := "a\nb\n"
	if got := truncateLines(body, 10); got != body {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestRecordOutcomeAccumulatesCounters(t *testing.T) {
	o := New(&config.Config{Minutes: 1}, t.TempDir(), nil)
	o.recordOutcome("wifi", model.SnapshotOK, 120)
	o.recordOutcome("wifi", model.SnapshotSkipped, 0)
	o.recordOutcome("wifi", model.SnapshotTimeout, 20000)

	c := o.counters["wifi"]
	if c.Runs != 3 || c.OK != 1 || c.Skipped != 1 || c.Timeout != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
	if c.LastDurationMs != 20000 {
		t.Fatalf("expected last duration to reflect most recent call, got %d", c.LastDurationMs)
	}
}

func TestPollDumpsysOnceRecordsSkippedWhenQueueBusy(t *testing.T) {
	o := New(&config.Config{Minutes: 1}, t.TempDir(), nil)
	o.queueBusy = true

	var buf discardWriter
	o.pollDumpsysOnce(context.Background(), Tasks[0], &buf)

	c := o.counters[Tasks[0].name]
	if c.Skipped != 1 || c.Runs != 1 {
		t.Fatalf("expected a skipped run to be recorded, got %+v", c)
	}
}

func TestDumpsysArgsIncludesSerialWhenSet(t *testing.T) {
	args := dumpsysArgs("ABC123", "wifi")
	if len(args) != 5 || args[0] != "-s" || args[1] != "ABC123" {
		t.Fatalf("expected serial-qualified args, got %v", args)
	}
	args = dumpsysArgs("", "wifi")
	if len(args) != 3 {
		t.Fatalf("expected unqualified args, got %v", args)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
