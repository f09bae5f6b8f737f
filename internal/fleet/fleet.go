// Package fleet implements jitterlens-fleet's consumer side: it reads
// model.FleetSummary records published by the report phase's fleetpublish
// sink and rolls them up into a windowed fleet health view, reusing the
// teacher's kafka and pulsar receiver connection setup as consumers of
// the same wire format fleetpublish produces.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	ps "github.com/apache/pulsar-client-go/pulsar"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/streamlens/jitterlens/internal/model"
)

// Rollup aggregates FleetSummary records observed within one window.
type Rollup struct {
	WindowStart    time.Time
	SessionCount   int
	CaptureCount   int
	DegradedCount  int
	CauseCounts    map[model.Cause]int
	AvgP95LatencyMs float64
	AvgLossPct     float64
}

// Accumulator collects FleetSummary records and produces windowed
// rollups on demand.
type Accumulator struct {
	mu      sync.Mutex
	records []model.FleetSummary
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add records one FleetSummary.
func (a *Accumulator) Add(s model.FleetSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, s)
}

// Rollup computes an aggregate view over every record whose
// GeneratedAtIso falls within [now-window, now].
func (a *Accumulator) Rollup(now time.Time, window time.Duration) Rollup {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Rollup{WindowStart: now.Add(-window), CauseCounts: map[model.Cause]int{}}
	var sumLatency, sumLoss float64
	seenCaptures := map[string]bool{}
	n := 0
	for _, s := range a.records {
		if s.GeneratedAtIso.Before(r.WindowStart) || s.GeneratedAtIso.After(now) {
			continue
		}
		n++
		r.SessionCount += s.SessionCount
		if !seenCaptures[s.CaptureID] {
			seenCaptures[s.CaptureID] = true
			r.CaptureCount++
		}
		if s.Degraded {
			r.DegradedCount++
		}
		r.CauseCounts[s.TopCause]++
		sumLatency += s.P95LatencyMs
		sumLoss += s.LossRatePct
	}
	if n > 0 {
		r.AvgP95LatencyMs = sumLatency / float64(n)
		r.AvgLossPct = sumLoss / float64(n)
	}
	return r
}

// TopCause returns the most frequently reported top cause in r, or the
// zero Cause if no records were observed.
func (r Rollup) TopCause() model.Cause {
	var best model.Cause
	bestCount := 0
	causes := make([]model.Cause, 0, len(r.CauseCounts))
	for c := range r.CauseCounts {
		causes = append(causes, c)
	}
	sort.Slice(causes, func(i, j int) bool { return causes[i] < causes[j] })
	for _, c := range causes {
		if r.CauseCounts[c] > bestCount {
			best, bestCount = c, r.CauseCounts[c]
		}
	}
	return best
}

// ConsumeKafka reads FleetSummary JSON messages from brokers/topic until
// ctx is canceled, adding each to acc.
func ConsumeKafka(ctx context.Context, brokers []string, topic, group string, acc *Accumulator) error {
	reader := kafkago.NewReader(kafkago.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fleet/kafka: read: %w", err)
		}
		var s model.FleetSummary
		if err := json.Unmarshal(msg.Value, &s); err != nil {
			continue
		}
		acc.Add(s)
	}
}

// ConsumePulsar reads FleetSummary JSON messages from serviceURL/topic
// until ctx is canceled, adding each to acc.
func ConsumePulsar(ctx context.Context, serviceURL, topic, subscription string, acc *Accumulator) error {
	client, err := ps.NewClient(ps.ClientOptions{URL: serviceURL})
	if err != nil {
		return fmt.Errorf("fleet/pulsar: client: %w", err)
	}
	defer client.Close()

	consumer, err := client.Subscribe(ps.ConsumerOptions{Topic: topic, SubscriptionName: subscription, Type: ps.Shared})
	if err != nil {
		return fmt.Errorf("fleet/pulsar: subscribe: %w", err)
	}
	defer consumer.Close()

	for {
		msg, err := consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fleet/pulsar: receive: %w", err)
		}
		var s model.FleetSummary
		if err := json.Unmarshal(msg.Payload(), &s); err == nil {
			acc.Add(s)
		}
		consumer.Ack(msg)
	}
}
