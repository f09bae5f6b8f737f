// Command jitterlens-report parses one capture directory produced by
// jitterlens-capture and emits the Markdown/CSV/JSON diagnosis report.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/streamlens/jitterlens/internal/appfocus"
	"github.com/streamlens/jitterlens/internal/capture"
	"github.com/streamlens/jitterlens/internal/correlate"
	"github.com/streamlens/jitterlens/internal/dumpsys"
	"github.com/streamlens/jitterlens/internal/eventstore"
	"github.com/streamlens/jitterlens/internal/exporters/fleetpublish"
	"github.com/streamlens/jitterlens/internal/exporters/otlplogs"
	"github.com/streamlens/jitterlens/internal/exporters/remotewrite"
	"github.com/streamlens/jitterlens/internal/exporters/weaviate"
	"github.com/streamlens/jitterlens/internal/logcat"
	"github.com/streamlens/jitterlens/internal/model"
	"github.com/streamlens/jitterlens/internal/pingparse"
	"github.com/streamlens/jitterlens/internal/report"
	"github.com/streamlens/jitterlens/internal/session"
	"github.com/streamlens/jitterlens/internal/snapshot"
)

var dumpsysFiles = map[string]model.ServiceOrLog{
	"dumpsys_wifi.log":       model.SourceDumpsysWifi,
	"dumpsys_conn.log":       model.SourceDumpsysConn,
	"dumpsys_deviceidle.log": model.SourceDumpsysIdle,
	"dumpsys_power.log":      model.SourceDumpsysPower,
	"dumpsys_alarm.log":      model.SourceDumpsysAlarm,
	"dumpsys_jobs.log":       model.SourceDumpsysJobs,
}

func main() {
	var (
		dir                  = flag.String("dir", "", "capture directory to analyze")
		latest               = flag.Bool("latest", false, "analyze the most recently modified subdirectory of --out-root")
		outRoot              = flag.String("out-root", "logs", "root to search for --latest")
		sessionMode          = flag.String("stream-window-mode", "auto", "session window validity mode: auto|strict|all")
		noisePolicy          = flag.String("noise-policy", "balanced", "appfocus noise policy: balanced|aggressive|conservative")
		preBufferSec         = flag.Float64("session-pre-buffer-sec", 5, "seconds to extend before each valid window")
		postBufferSec        = flag.Float64("session-post-buffer-sec", 10, "seconds to extend after each valid window")
		skewToleranceSec     = flag.Float64("clock-skew-tolerance-sec", 2, "extra buffer seconds absorbing clock skew")
		noValidSessionPolicy = flag.String("no-valid-session-policy", "empty-main", "empty-main|degraded")
		noiseOverrideExpr    = flag.String("noise-override-cel", "", "operator CEL override expression for appfocus noise filtering")

		remoteWriteURL    = flag.String("metrics-remote-write-url", "", "Prometheus remote-write endpoint for report metrics")
		weaviateURL       = flag.String("weaviate-url", "", "Weaviate base URL for diagnosis vectorization")
		weaviateClass     = flag.String("weaviate-class", "", "Weaviate class name (default JitterlensDiagnosis)")
		otlpLogsAddr      = flag.String("otlp-logs-grpc-addr", "", "OTLP logs gRPC collector address")
		fleetKafkaBrokers = flag.String("fleet-kafka-brokers", "", "comma-separated Kafka brokers for fleet publish")
		fleetKafkaTopic   = flag.String("fleet-kafka-topic", "", "Kafka topic for fleet publish")
		fleetPulsarURL    = flag.String("fleet-pulsar-url", "", "Pulsar service URL for fleet publish")
		fleetPulsarTopic  = flag.String("fleet-pulsar-topic", "", "Pulsar topic for fleet publish")
	)
	flag.Parse()

	captureDir, err := resolveCaptureDir(*dir, *latest, *outRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[jitterlens-report] %v\n", err)
		os.Exit(1)
	}

	data, manifest, err := analyze(captureDir, session.Mode(*sessionMode), appfocus.NoisePolicy(*noisePolicy),
		*preBufferSec, *postBufferSec, *skewToleranceSec, report.NoValidSessionPolicy(*noValidSessionPolicy), *noiseOverrideExpr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[jitterlens-report] analysis error: %v\n", err)
		os.Exit(1)
	}

	if err := writeOutputs(captureDir, data); err != nil {
		fmt.Fprintf(os.Stderr, "[jitterlens-report] write error: %v\n", err)
		os.Exit(1)
	}

	runSinks(context.Background(), data, manifest, sinkConfig{
		remoteWriteURL:    *remoteWriteURL,
		weaviateURL:       *weaviateURL,
		weaviateClass:     *weaviateClass,
		otlpLogsAddr:      *otlpLogsAddr,
		fleetKafkaBrokers: splitCSV(*fleetKafkaBrokers),
		fleetKafkaTopic:   *fleetKafkaTopic,
		fleetPulsarURL:    *fleetPulsarURL,
		fleetPulsarTopic:  *fleetPulsarTopic,
	})
}

func resolveCaptureDir(dir string, latest bool, outRoot string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	if !latest {
		return "", fmt.Errorf("one of --dir or --latest is required")
	}
	entries, err := os.ReadDir(outRoot)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", outRoot, err)
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(bestMod) {
			bestMod = info.ModTime()
			best = filepath.Join(outRoot, e.Name())
		}
	}
	if best == "" {
		return "", fmt.Errorf("no capture subdirectories found under %s", outRoot)
	}
	return best, nil
}

func readManifest(dir string) (*capture.Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, "capture_meta.json"))
	if err != nil {
		return nil, fmt.Errorf("reading capture_meta.json: %w", err)
	}
	var m capture.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parsing capture_meta.json: %w", err)
	}
	return &m, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func analyze(dir string, mode session.Mode, noisePolicy appfocus.NoisePolicy, preBufferSec, postBufferSec, skewToleranceSec float64, sessionPolicy report.NoValidSessionPolicy, overrideExpr string) (report.Data, *capture.Manifest, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		log.Printf("[jitterlens-report] manifest unavailable: %v; using the hour before now as the capture window", err)
		manifest = &capture.Manifest{}
	}

	logcatLines, err := readLines(filepath.Join(dir, "logcat_all.log"))
	if err != nil {
		return report.Data{}, nil, fmt.Errorf("reading logcat_all.log (required): %w", err)
	}

	captureStart, captureEnd := resolveCaptureBounds(manifest, logcatLines)

	det := session.New(mode, session.Buffers{
		Pre:  time.Duration(preBufferSec * float64(time.Second)),
		Post: time.Duration(postBufferSec * float64(time.Second)),
		Skew: time.Duration(skewToleranceSec * float64(time.Second)),
	})
	var parsedLines []logcat.Line
	for _, raw := range logcatLines {
		l, ok := logcat.ParseLine(raw, captureStart, captureEnd)
		if !ok {
			continue
		}
		parsedLines = append(parsedLines, l)
		det.Feed(l.TS, l.Message)
	}
	rawWindows := det.Finish()
	effWindows := det.EffectiveWindows(rawWindows, captureStart, captureEnd)
	resolver := session.NewResolver(rawWindows, effWindows)

	store := eventstore.New()
	dropReasons := map[string]int{}
	extractor := appfocus.NewWithOverride(resolver, noisePolicy, overrideExpr)

	var internalStats []model.InternalStatsSample
	var appMetrics []model.AppMetricSample
	var appAnomalies []model.AppAnomaly

	for _, l := range parsedLines {
		cls := logcat.Classify(l)
		if cls.DropReason != "" {
			dropReasons[cls.DropReason]++
		}
		for _, ev := range cls.Events {
			store.Add(ev)
		}
		if appfocus.LooksLikeAppLine(l.Tag, l.Message) {
			res := extractor.Process(l.TS, l.Tag, l.Tag, l.Message, l.Raw)
			if res.InternalStats != nil {
				internalStats = append(internalStats, *res.InternalStats)
			}
			appMetrics = append(appMetrics, res.Metrics...)
			if res.Anomaly != nil {
				appAnomalies = append(appAnomalies, *res.Anomaly)
			}
		}
	}

	var missingOptional []string
	for name, source := range dumpsysFiles {
		snaps, err := readSnapshotFile(filepath.Join(dir, name))
		if err != nil {
			missingOptional = append(missingOptional, name)
			continue
		}
		dsDet := dumpsys.New()
		for _, snap := range snaps {
			if snap.Status != model.SnapshotOK {
				continue
			}
			for _, ev := range dsDet.Feed(snap) {
				ev.Source = source
				store.Add(ev)
			}
		}
	}
	sort.Strings(missingOptional)

	devicePing := parsePingFile(filepath.Join(dir, "ping_host.log"), captureStart, resolver)
	hostPing := parsePingFile(filepath.Join(dir, "ping_host_side.log"), captureStart, resolver)

	var jitterTS, highLatTS, anomalyTS []time.Time
	for _, j := range devicePing.JitterEvents {
		jitterTS = append(jitterTS, j.TS)
	}
	for _, b := range devicePing.HighLatencyBursts {
		highLatTS = append(highLatTS, b.StartTS)
	}
	for _, a := range appAnomalies {
		anomalyTS = append(anomalyTS, a.TS)
	}

	in := correlate.CauseInputs{
		JitterPoints:      jitterTS,
		HighLatencyStarts: highLatTS,
		AppAnomalyTS:      anomalyTS,
		RTTVarSamples:     filterMetric(appMetrics, model.MetricRTTVarMs),
		DecodeMsSamples:   filterMetric(appMetrics, model.MetricDecodeMs),
		RenderMsSamples:   filterMetric(appMetrics, model.MetricRenderMs),
		TotalMsSamples:    filterMetric(appMetrics, model.MetricTotalMs),
		LossPctSamples:    filterMetric(appMetrics, model.MetricLossPct),
		FPSSamples:        filterMetric(appMetrics, model.MetricFPSTotal),
		LossPct:           devicePing.PacketLossPct,
		P95LatencyMs:      p95Latency(devicePing.Samples),
		DisconnectTS:      store.Timestamps(model.EventDisconnect),
		DHCPTS:            store.Timestamps(model.EventDHCP),
		DozeEnterExitTS:   append(append([]time.Time{}, store.Timestamps(model.EventDozeEnter)...), store.Timestamps(model.EventDozeExit)...),
		IdleEnterExitTS:   append(append([]time.Time{}, store.Timestamps(model.EventIdleEnter)...), store.Timestamps(model.EventIdleExit)...),
		ConnectTS:         store.Timestamps(model.EventConnect),
		Degraded:          !hasValidWindow(rawWindows) && sessionPolicy == report.PolicyDegraded,
	}
	causes := correlate.RankCauses(in)

	hasValid := hasValidWindow(rawWindows)
	noValidReason := ""
	if !hasValid {
		noValidReason = "no logcat window satisfied the configured stream-window-mode validity gate"
	}

	bidir := correlate.Analyze(devicePing.Samples, hostPing.Samples, devicePing.HighLatencyBursts, hostPing.HighLatencyBursts,
		manifest.Ping.IntervalSec, manifest.HostSidePing.IntervalSec)

	d := report.Data{
		GeneratedAt:          time.Now(),
		CaptureDir:           dir,
		Mode:                 string(mode),
		NoisePolicy:          string(noisePolicy),
		CaptureStart:         captureStart,
		CaptureEnd:           captureEnd,
		RawWindows:           rawWindows,
		EffectiveWindows:     effWindows,
		HasValidSession:      hasValid,
		NoValidReason:        noValidReason,
		SessionPolicy:        sessionPolicy,
		Degraded:             in.Degraded,
		Timeline:             correlate.BuildTimeline(store, captureStart, captureEnd),
		IntervalStats:        correlate.IntervalStats(store, correlate.PublicEventTypes),
		TopPeriodicity:       correlate.Periodicity(store, correlate.PublicEventTypes),
		Alignment:            correlate.PreAlignment(store),
		InternalStats:        internalStats,
		AppMetrics:           appMetrics,
		AppAnomalies:         appAnomalies,
		DevicePingSamples:    devicePing.Samples,
		HostPingSamples:      hostPing.Samples,
		Bidirectional:        bidir,
		CauseScores:          causes,
		TotalEventsAll:       len(store.All()),
		TotalEventsSession:   countInSession(store.All(), resolver),
		TotalEventsOutside:   len(store.All()) - countInSession(store.All(), resolver),
		DropReasons:          dropReasons,
		MissingOptionalFiles: missingOptional,
	}
	return d, manifest, nil
}

func countInSession(events []model.Event, resolver *session.Resolver) int {
	n := 0
	for _, e := range events {
		if resolver.InSessionAt(e.TS) {
			n++
		}
	}
	return n
}

func hasValidWindow(windows []model.StreamWindow) bool {
	for _, w := range windows {
		if w.Valid {
			return true
		}
	}
	return false
}

func filterMetric(samples []model.AppMetricSample, t model.AppMetricType) []model.AppMetricSample {
	var out []model.AppMetricSample
	for _, s := range samples {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

func p95Latency(samples []model.PingSample) float64 {
	var vals []float64
	for _, s := range samples {
		if s.Success && s.LatencyMs != nil {
			vals = append(vals, *s.LatencyMs)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	idx := int(float64(len(vals)-1) * 0.95)
	return vals[idx]
}

type pingParseOutcome struct {
	Samples           []model.PingSample
	JitterEvents      []model.JitterEvent
	HighLatencyBursts []model.HighLatencyBurst
	PacketLossPct     float64
	ThresholdMs       float64
}

func parsePingFile(path string, captureStart time.Time, resolver pingparse.PhaseResolver) pingParseOutcome {
	lines, err := readLines(path)
	if err != nil {
		return pingParseOutcome{}
	}
	opt := pingparse.ParseOptions{CaptureStartTS: captureStart, Resolver: resolver}
	var res pingparse.ParseResult
	if isHostSideLog(lines) {
		res = pingparse.ParseHostSideLog(lines, opt)
	} else {
		res = pingparse.ParseDeviceLog(lines, opt)
	}
	return pingParseOutcome{
		Samples:           res.Samples,
		JitterEvents:      res.JitterEvents,
		HighLatencyBursts: res.HighLatencyBursts,
		PacketLossPct:     res.PacketLossPct,
		ThresholdMs:       res.ThresholdMs,
	}
}

func isHostSideLog(lines []string) bool {
	for _, l := range lines {
		if l != "" {
			return strings.Contains(l, "source=host_side_ping")
		}
	}
	return false
}

func readSnapshotFile(path string) ([]model.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return snapshot.ReadAll(f)
}

func resolveCaptureBounds(m *capture.Manifest, logcatLines []string) (time.Time, time.Time) {
	if m.StartedAtIso != "" {
		start, err1 := time.Parse(time.RFC3339, m.StartedAtIso)
		end, err2 := time.Parse(time.RFC3339, m.StoppedAtIso)
		if err1 == nil && err2 == nil {
			return start, end
		}
	}
	now := time.Now()
	return now.Add(-1 * time.Hour), now
}

type sinkConfig struct {
	remoteWriteURL    string
	weaviateURL       string
	weaviateClass     string
	otlpLogsAddr      string
	fleetKafkaBrokers []string
	fleetKafkaTopic   string
	fleetPulsarURL    string
	fleetPulsarTopic  string
}

func runSinks(ctx context.Context, d report.Data, manifest *capture.Manifest, cfg sinkConfig) {
	rw := remotewrite.New(cfg.remoteWriteURL)
	if rw.Enabled() {
		req := remotewrite.BuildWriteRequest(d.GeneratedAt, d.Timeline, d.CauseScores)
		if err := rw.Push(ctx, req); err != nil {
			log.Printf("[remotewrite] push failed: %v", err)
		}
	}

	wv := weaviate.New(cfg.weaviateURL, cfg.weaviateClass)
	if wv.Enabled() {
		records := append(weaviate.RecordsFromCauses(d.CaptureDir, d.CauseScores), weaviate.RecordsFromWindows(d.CaptureDir, d.EffectiveWindows)...)
		for _, err := range wv.UpsertAll(ctx, records) {
			if err != nil {
				log.Printf("[weaviate] upsert failed: %v", err)
			}
		}
	}

	ol := otlplogs.New(cfg.otlpLogsAddr)
	if ol.Enabled() {
		if err := ol.Export(ctx, d.CaptureDir, eventsFromData(d)); err != nil {
			log.Printf("[otlplogs] export failed: %v", err)
		}
	}

	summary := buildFleetSummary(d, manifest)
	if len(cfg.fleetKafkaBrokers) > 0 && cfg.fleetKafkaTopic != "" {
		sink := fleetpublish.NewKafkaSink(cfg.fleetKafkaBrokers, cfg.fleetKafkaTopic)
		if err := sink.Publish(ctx, summary); err != nil {
			log.Printf("[fleet-kafka] publish failed: %v", err)
		}
		sink.Close()
	}
	if cfg.fleetPulsarURL != "" && cfg.fleetPulsarTopic != "" {
		sink, err := fleetpublish.NewPulsarSink(cfg.fleetPulsarURL, cfg.fleetPulsarTopic)
		if err != nil {
			log.Printf("[fleet-pulsar] connect failed: %v", err)
		} else {
			if err := sink.Publish(ctx, summary); err != nil {
				log.Printf("[fleet-pulsar] publish failed: %v", err)
			}
			sink.Close()
		}
	}
}

func eventsFromData(d report.Data) []model.Event {
	var out []model.Event
	for _, w := range d.EffectiveWindows {
		out = append(out, model.Event{TS: w.StartTS, Type: "SESSION_WINDOW", Source: model.SourceLogcat})
	}
	return out
}

func buildFleetSummary(d report.Data, m *capture.Manifest) model.FleetSummary {
	var topCause model.Cause
	var topScore float64
	if len(d.CauseScores) > 0 {
		topCause = d.CauseScores[0].Cause
		topScore = d.CauseScores[0].Score
	}
	return model.FleetSummary{
		CaptureID:      d.CaptureDir,
		DeviceSerial:   m.DeviceSerial,
		GeneratedAtIso: d.GeneratedAt,
		SessionCount:   len(d.EffectiveWindows),
		TopCause:       topCause,
		TopCauseScore:  topScore,
		P95LatencyMs:   p95Latency(d.DevicePingSamples),
		LossRatePct:    lossRate(d.DevicePingSamples),
		Degraded:       d.Degraded,
	}
}

func lossRate(samples []model.PingSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	failed := 0
	for _, s := range samples {
		if !s.Success {
			failed++
		}
	}
	return 100 * float64(failed) / float64(len(samples))
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func writeOutputs(dir string, d report.Data) error {
	mdFile, err := os.Create(filepath.Join(dir, "report.md"))
	if err != nil {
		return err
	}
	defer mdFile.Close()
	if err := report.WriteMarkdown(mdFile, d); err != nil {
		return fmt.Errorf("writing report.md: %w", err)
	}

	manifestFile, err := os.Create(filepath.Join(dir, "analysis_meta.json"))
	if err != nil {
		return err
	}
	defer manifestFile.Close()
	if err := report.WriteManifest(manifestFile, report.BuildManifest(d)); err != nil {
		return fmt.Errorf("writing analysis_meta.json: %w", err)
	}

	timelineFile, err := os.Create(filepath.Join(dir, "timeline.csv"))
	if err != nil {
		return err
	}
	defer timelineFile.Close()
	if err := report.WriteTimelineCSV(timelineFile, d.Timeline, correlate.PublicEventTypes); err != nil {
		return fmt.Errorf("writing timeline.csv: %w", err)
	}

	intervalFile, err := os.Create(filepath.Join(dir, "interval_stats.csv"))
	if err != nil {
		return err
	}
	defer intervalFile.Close()
	if err := report.WriteIntervalStatsCSV(intervalFile, d.IntervalStats); err != nil {
		return fmt.Errorf("writing interval_stats.csv: %w", err)
	}

	appMetricsFile, err := os.Create(filepath.Join(dir, "app_metrics.csv"))
	if err != nil {
		return err
	}
	defer appMetricsFile.Close()
	if err := report.WriteAppMetricsCSV(appMetricsFile, d.AppMetrics); err != nil {
		return fmt.Errorf("writing app_metrics.csv: %w", err)
	}

	internalStatsFile, err := os.Create(filepath.Join(dir, "internal_stats.csv"))
	if err != nil {
		return err
	}
	defer internalStatsFile.Close()
	if err := report.WriteInternalStatsCSV(internalStatsFile, d.InternalStats); err != nil {
		return fmt.Errorf("writing internal_stats.csv: %w", err)
	}

	windowsFile, err := os.Create(filepath.Join(dir, "stream_windows.csv"))
	if err != nil {
		return err
	}
	defer windowsFile.Close()
	if err := report.WriteStreamWindowsCSV(windowsFile, d.RawWindows); err != nil {
		return fmt.Errorf("writing stream_windows.csv: %w", err)
	}

	effWindowsFile, err := os.Create(filepath.Join(dir, "effective_windows.csv"))
	if err != nil {
		return err
	}
	defer effWindowsFile.Close()
	if err := report.WriteEffectiveWindowsCSV(effWindowsFile, d.EffectiveWindows); err != nil {
		return fmt.Errorf("writing effective_windows.csv: %w", err)
	}

	pingFile, err := os.Create(filepath.Join(dir, "ping_samples.csv"))
	if err != nil {
		return err
	}
	defer pingFile.Close()
	allPings := append(append([]model.PingSample{}, d.DevicePingSamples...), d.HostPingSamples...)
	if err := report.WritePingSamplesCSV(pingFile, allPings); err != nil {
		return fmt.Errorf("writing ping_samples.csv: %w", err)
	}

	return nil
}
