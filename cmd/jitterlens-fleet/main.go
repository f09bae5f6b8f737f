// Command jitterlens-fleet consumes FleetSummary records published by
// jitterlens-report and prints a windowed rollup of fleet-wide cause
// frequencies and health.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/streamlens/jitterlens/internal/fleet"
)

func main() {
	var (
		kafkaBrokers = flag.String("kafka-brokers", "", "comma-separated Kafka brokers")
		kafkaTopic   = flag.String("kafka-topic", "", "Kafka topic to consume")
		kafkaGroup   = flag.String("kafka-group", "jitterlens-fleet", "Kafka consumer group")
		pulsarURL    = flag.String("pulsar-url", "", "Pulsar service URL")
		pulsarTopic  = flag.String("pulsar-topic", "", "Pulsar topic to consume")
		pulsarSub    = flag.String("pulsar-subscription", "jitterlens-fleet", "Pulsar subscription name")
		window       = flag.Duration("window", 15*time.Minute, "rollup window duration")
	)
	flag.Parse()

	brokers := splitCSV(*kafkaBrokers)
	if len(brokers) == 0 && *pulsarURL == "" {
		fmt.Fprintln(os.Stderr, "[jitterlens-fleet] one of --kafka-brokers or --pulsar-url is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	acc := fleet.NewAccumulator()

	if len(brokers) > 0 && *kafkaTopic != "" {
		go func() {
			if err := fleet.ConsumeKafka(ctx, brokers, *kafkaTopic, *kafkaGroup, acc); err != nil {
				log.Printf("[jitterlens-fleet] kafka consumer stopped: %v", err)
			}
		}()
	}
	if *pulsarURL != "" && *pulsarTopic != "" {
		go func() {
			if err := fleet.ConsumePulsar(ctx, *pulsarURL, *pulsarTopic, *pulsarSub, acc); err != nil {
				log.Printf("[jitterlens-fleet] pulsar consumer stopped: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(*window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printRollup(acc, *window)
		}
	}
}

func printRollup(acc *fleet.Accumulator, window time.Duration) {
	r := acc.Rollup(time.Now(), window)
	out := struct {
		WindowStart   time.Time      `json:"windowStart"`
		SessionCount  int            `json:"sessionCount"`
		CaptureCount  int            `json:"captureCount"`
		DegradedCount int            `json:"degradedCount"`
		TopCause      string         `json:"topCause"`
		AvgP95LatencyMs float64      `json:"avgP95LatencyMs"`
		AvgLossPct    float64        `json:"avgLossPct"`
		CauseCounts   map[string]int `json:"causeCounts"`
	}{
		WindowStart:     r.WindowStart,
		SessionCount:    r.SessionCount,
		CaptureCount:    r.CaptureCount,
		DegradedCount:   r.DegradedCount,
		TopCause:        string(r.TopCause()),
		AvgP95LatencyMs: r.AvgP95LatencyMs,
		AvgLossPct:      r.AvgLossPct,
		CauseCounts:     map[string]int{},
	}
	for c, n := range r.CauseCounts {
		out.CauseCounts[string(c)] = n
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
