// Package report renders the Markdown report, CSV tables, and the JSON
// analysis manifest from the correlation engine's derived statistics.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/streamlens/jitterlens/internal/correlate"
	"github.com/streamlens/jitterlens/internal/model"
	"github.com/streamlens/jitterlens/internal/stats"
)

// NoValidSessionPolicy selects what happens when no valid stream window
// was found.
type NoValidSessionPolicy string

const (
	PolicyEmptyMain NoValidSessionPolicy = "empty-main"
	PolicyDegraded  NoValidSessionPolicy = "degraded"
)

// Data bundles everything the Markdown/CSV/JSON emitters draw from.
type Data struct {
	GeneratedAt time.Time
	CaptureDir  string
	Mode        string
	NoisePolicy string

	CaptureStart time.Time
	CaptureEnd   time.Time

	RawWindows       []model.StreamWindow
	EffectiveWindows []model.EffectiveWindow
	HasValidSession  bool
	NoValidReason    string
	SessionPolicy    NoValidSessionPolicy
	Degraded         bool

	Timeline        []correlate.TimelineMinute
	IntervalStats   []correlate.IntervalStat
	TopPeriodicity  []correlate.PeriodicityEntry
	Alignment       []correlate.AlignmentEntry

	InternalStats []model.InternalStatsSample
	AppMetrics    []model.AppMetricSample
	AppAnomalies  []model.AppAnomaly

	DevicePingSamples []model.PingSample
	HostPingSamples   []model.PingSample
	Bidirectional     correlate.BidirectionalResult

	CauseScores []model.CauseScore

	TotalEventsAll     int
	TotalEventsSession int
	TotalEventsOutside int
	DropReasons        map[string]int

	MissingOptionalFiles []string
}

// WriteMarkdown renders the full report.
func WriteMarkdown(w io.Writer, d Data) error {
	bw := &errWriter{w: w}

	if d.Degraded {
		fmt.Fprintln(bw, "> **Degraded analysis**: one or more inputs were incomplete; all levels/confidence below are lowered accordingly.")
		fmt.Fprintln(bw)
	}

	fmt.Fprintln(bw, "# Jitterlens Report")
	fmt.Fprintf(bw, "Generated %s for capture `%s`.\n\n", stats.FormatISO(d.GeneratedAt), d.CaptureDir)

	writeAvailability(bw, d)

	if !d.HasValidSession && d.SessionPolicy == PolicyEmptyMain {
		fmt.Fprintln(bw, "## No valid streaming session detected")
		fmt.Fprintf(bw, "Reason: %s\n\n", d.NoValidReason)
		fmt.Fprintln(bw, "Suggestions: verify the streaming client was actually connected during capture, "+
			"check `--stream-window-mode`, or recapture with a longer duration.")
		writeAppendices(bw, d)
		return bw.err
	}

	writeSessionSection(bw, d)
	writeInternalStatsSummary(bw, d)
	writePingSection(bw, d)
	writeCauseRanking(bw, d)
	writeAppendices(bw, d)
	return bw.err
}

func writeAvailability(w io.Writer, d Data) {
	fmt.Fprintln(w, "## Availability")
	fmt.Fprintf(w, "- Capture window: %s → %s\n", stats.FormatISO(d.CaptureStart), stats.FormatISO(d.CaptureEnd))
	fmt.Fprintf(w, "- Valid streaming session found: %v\n", d.HasValidSession)
	if len(d.MissingOptionalFiles) > 0 {
		fmt.Fprintf(w, "- Missing optional inputs: %v\n", d.MissingOptionalFiles)
	}
	fmt.Fprintln(w)
}

func writeSessionSection(w io.Writer, d Data) {
	fmt.Fprintln(w, "## Stream session identification")
	fmt.Fprintf(w, "Raw windows: %d, effective windows: %d\n\n", len(d.RawWindows), len(d.EffectiveWindows))
	fmt.Fprintln(w, "| # | Start | End | Score | Valid |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	for _, rw := range d.RawWindows {
		fmt.Fprintf(w, "| %d | %s | %s | %.2f | %v |\n",
			rw.ID, stats.FormatISO(rw.StartTS), stats.FormatISO(rw.EndTS), rw.Score, rw.Valid)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| # | Start | End |")
	fmt.Fprintln(w, "|---|---|---|")
	for _, ew := range d.EffectiveWindows {
		fmt.Fprintf(w, "| %d | %s | %s |\n", ew.ID, stats.FormatISO(ew.StartTS), stats.FormatISO(ew.EndTS))
	}
	fmt.Fprintln(w)
}

func writeInternalStatsSummary(w io.Writer, d Data) {
	fmt.Fprintln(w, "## Session-internal INTERNAL_STATS summary")
	byType := map[model.AppMetricType][]float64{}
	for _, m := range d.AppMetrics {
		if !m.InSession {
			continue
		}
		byType[m.Type] = append(byType[m.Type], m.Value)
	}
	types := make([]model.AppMetricType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	fmt.Fprintln(w, "| Metric | Count | Min | P50 | P95 | Max | Avg |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, t := range types {
		vals := stats.SortedCopy(byType[t])
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		avg := 0.0
		if len(vals) > 0 {
			avg = sum / float64(len(vals))
		}
		min := 0.0
		max := 0.0
		if len(vals) > 0 {
			min = vals[0]
			max = vals[len(vals)-1]
		}
		fmt.Fprintf(w, "| %s | %d | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
			t, len(vals), min, stats.Quantile(vals, 0.5), stats.Quantile(vals, 0.95), max, avg)
	}
	fmt.Fprintln(w)
}

func writePingSection(w io.Writer, d Data) {
	fmt.Fprintln(w, "## Ping-in-session statistics")
	inSessionDevice := filterInSession(d.DevicePingSamples)
	inSessionHost := filterInSession(d.HostPingSamples)
	fmt.Fprintf(w, "- Device-side in-session samples: %d\n", len(inSessionDevice))
	fmt.Fprintf(w, "- Host-side in-session samples: %d\n", len(inSessionHost))
	fmt.Fprintf(w, "- Bidirectional direction: %s (confidence %s, burst overlap=%.2f, paired=%d, p95|Δ|=%.2fms)\n",
		d.Bidirectional.Direction, d.Bidirectional.Confidence, d.Bidirectional.BurstOverlap, d.Bidirectional.PairedCount, d.Bidirectional.P95AbsDelta)
	if len(d.Bidirectional.Findings) > 0 {
		fmt.Fprintln(w, "- Auto findings:")
		for _, f := range d.Bidirectional.Findings {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	fmt.Fprintln(w)
}

func filterInSession(samples []model.PingSample) []model.PingSample {
	var out []model.PingSample
	for _, s := range samples {
		if s.InSession {
			out = append(out, s)
		}
	}
	return out
}

func writeCauseRanking(w io.Writer, d Data) {
	fmt.Fprintln(w, "## Cause ranking")
	top := d.CauseScores
	if len(top) > 3 {
		top = top[:3]
	}
	for i, cs := range top {
		fmt.Fprintf(w, "### %d. %s — score %.2f (%s, confidence %s)\n", i+1, cs.Cause, cs.Score, cs.Level, cs.Confidence)
		fmt.Fprintf(w, "overlap=%.2f leadLag=%.2f intensity=%.2f\n\n", cs.Overlap, cs.LeadLag, cs.Intensity)
		fmt.Fprintln(w, "| TS | Metric | Value | Detail |")
		fmt.Fprintln(w, "|---|---|---|---|")
		for _, ev := range cs.Evidence {
			fmt.Fprintf(w, "| %s | %s | %.2f | %s |\n", stats.FormatISO(ev.TS), ev.Metric, ev.Value, ev.Detail)
		}
		fmt.Fprintln(w)
	}
}

func writeAppendices(w io.Writer, d Data) {
	fmt.Fprintln(w, "## Full-vs-session counters")
	fmt.Fprintf(w, "- Events total (all): %d\n", d.TotalEventsAll)
	fmt.Fprintf(w, "- Events in-session: %d\n", d.TotalEventsSession)
	fmt.Fprintf(w, "- Events outside session: %d\n\n", d.TotalEventsOutside)

	fmt.Fprintln(w, "## Noise reduction")
	type reasonCount struct {
		reason string
		count  int
	}
	var reasons []reasonCount
	for r, c := range d.DropReasons {
		reasons = append(reasons, reasonCount{r, c})
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i].count > reasons[j].count })
	fmt.Fprintln(w, "| Reason | Count |")
	fmt.Fprintln(w, "|---|---|")
	for _, r := range reasons {
		fmt.Fprintf(w, "| %s | %d |\n", r.reason, r.count)
	}
}

// errWriter remembers the first write error so callers can check it once
// at the end instead of after every Fprintf.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

// WriteTimelineCSV writes the per-minute timeline CSV (full or
// session-filtered, decided by the caller's pre-filtered input).
func WriteTimelineCSV(w io.Writer, timeline []correlate.TimelineMinute, types []model.EventType) error {
	cw := csv.NewWriter(w)
	header := append([]string{"minute"}, eventTypeStrings(types)...)
	header = append(header, "wakelock_spike")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, m := range timeline {
		row := []string{m.Minute}
		for _, t := range types {
			row = append(row, strconv.Itoa(m.Counts[t]))
		}
		row = append(row, boolStr(m.WakelockSpike))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func eventTypeStrings(types []model.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// WriteIntervalStatsCSV writes the interval-statistics CSV.
func WriteIntervalStatsCSV(w io.Writer, stats []correlate.IntervalStat) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_type", "count", "p25_sec", "p50_sec", "p75_sec", "top_bin_1", "top_bin_2", "top_bin_3"}); err != nil {
		return err
	}
	for _, s := range stats {
		row := []string{
			string(s.Type), strconv.Itoa(s.Count),
			fmt.Sprintf("%.2f", s.P25), fmt.Sprintf("%.2f", s.P50), fmt.Sprintf("%.2f", s.P75),
		}
		for i := 0; i < 3; i++ {
			if i < len(s.TopBins) {
				row = append(row, fmt.Sprintf("%.0f:%d", s.TopBins[i].LowerBound, s.TopBins[i].Count))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAppMetricsCSV writes one row per AppMetricSample.
func WriteAppMetricsCSV(w io.Writer, samples []model.AppMetricSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ts", "type", "value", "unit", "phase", "in_session", "confidence", "metric_source"}); err != nil {
		return err
	}
	for _, s := range samples {
		row := []string{
			ts(s.TS), string(s.Type), fmt.Sprintf("%.4f", s.Value), s.Unit,
			string(s.Phase), boolStr(s.InSession), fmt.Sprintf("%.2f", s.Confidence), string(s.MetricSource),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteInternalStatsCSV writes one row per InternalStatsSample.
func WriteInternalStatsCSV(w io.Writer, samples []model.InternalStatsSample) error {
	cw := csv.NewWriter(w)
	header := []string{"ts", "fps_total", "fps_rx", "fps_rd", "loss_frames", "loss_total", "loss_pct",
		"loss_events", "rtt_ms", "rtt_var_ms", "decode_ms", "render_ms", "total_ms",
		"host_lat_min_ms", "host_lat_max_ms", "host_lat_avg_ms", "decoder", "hdr", "phase", "in_session"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range samples {
		row := []string{
			ts(s.TS), f(s.FPSTotal), f(s.FPSRx), f(s.FPSRd),
			strconv.Itoa(s.LossFrames), strconv.Itoa(s.LossTotal), f(s.LossPct), strconv.Itoa(s.LossEvents),
			f(s.RTTMs), f(s.RTTVarMs), f(s.DecodeMs), f(s.RenderMs), f(s.TotalMs),
			f(s.HostLatMinMs), f(s.HostLatMaxMs), f(s.HostLatAvgMs),
			s.Decoder, boolStr(s.HDR), string(s.Phase), boolStr(s.InSession),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStreamWindowsCSV writes the raw stream-window table.
func WriteStreamWindowsCSV(w io.Writer, windows []model.StreamWindow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "start", "end", "score", "valid", "has_start", "has_strong_start", "has_end", "activity_count"}); err != nil {
		return err
	}
	for _, win := range windows {
		row := []string{
			strconv.Itoa(win.ID), ts(win.StartTS), ts(win.EndTS), f(win.Score), boolStr(win.Valid),
			boolStr(win.HasStartMarker), boolStr(win.HasStrongStart), boolStr(win.HasEndMarker), strconv.Itoa(win.ActivityCount),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEffectiveWindowsCSV writes the merged/buffered effective windows.
func WriteEffectiveWindowsCSV(w io.Writer, windows []model.EffectiveWindow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "start", "end"}); err != nil {
		return err
	}
	for _, win := range windows {
		if err := cw.Write([]string{strconv.Itoa(win.ID), ts(win.StartTS), ts(win.EndTS)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePingSamplesCSV writes one row per PingSample.
func WritePingSamplesCSV(w io.Writer, samples []model.PingSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ts", "seq", "success", "latency_ms", "status", "ts_source", "phase", "in_session"}); err != nil {
		return err
	}
	for _, s := range samples {
		seq := ""
		if s.Seq != nil {
			seq = strconv.Itoa(*s.Seq)
		}
		lat := ""
		if s.LatencyMs != nil {
			lat = f(*s.LatencyMs)
		}
		row := []string{ts(s.TS), seq, boolStr(s.Success), lat, string(s.Status), string(s.TSSource), string(s.Phase), boolStr(s.InSession)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ts(t time.Time) string { return stats.FormatTS(t) }
func f(v float64) string    { return fmt.Sprintf("%.4f", v) }

// Manifest is the JSON analysis manifest.
type Manifest struct {
	GeneratedAtIso string                   `json:"generatedAtIso"`
	Mode           string                   `json:"mode"`
	NoisePolicy    string                   `json:"noisePolicy"`
	Degraded       bool                     `json:"degraded"`
	HasValidSession bool                    `json:"hasValidSession"`
	NoValidReason  string                   `json:"noValidReason,omitempty"`
	Counts         ManifestCounts           `json:"counts"`
	Session        ManifestSession          `json:"session"`
	TopPeriodicity []correlate.PeriodicityEntry `json:"topPeriodicity"`
	Alignment      []correlate.AlignmentEntry   `json:"alignment"`
	Bidirectional  correlate.BidirectionalResult `json:"bidirectional"`
	CauseRanking   []model.CauseScore       `json:"causeRanking"`
	MissingOptional []string                `json:"missingOptional,omitempty"`
}

// ManifestCounts mirrors the full-vs-session counters appendix.
type ManifestCounts struct {
	EventsTotal   int `json:"eventsTotal"`
	EventsSession int `json:"eventsSession"`
	EventsOutside int `json:"eventsOutside"`
	DropReasons   map[string]int `json:"dropReasons"`
}

// ManifestSession mirrors the session-identification block.
type ManifestSession struct {
	RawWindowCount       int `json:"rawWindowCount"`
	EffectiveWindowCount int `json:"effectiveWindowCount"`
}

// BuildManifest assembles the JSON manifest from Data.
func BuildManifest(d Data) Manifest {
	return Manifest{
		GeneratedAtIso:  stats.FormatISO(d.GeneratedAt),
		Mode:            d.Mode,
		NoisePolicy:     d.NoisePolicy,
		Degraded:        d.Degraded,
		HasValidSession: d.HasValidSession,
		NoValidReason:   d.NoValidReason,
		Counts: ManifestCounts{
			EventsTotal:   d.TotalEventsAll,
			EventsSession: d.TotalEventsSession,
			EventsOutside: d.TotalEventsOutside,
			DropReasons:   d.DropReasons,
		},
		Session: ManifestSession{
			RawWindowCount:       len(d.RawWindows),
			EffectiveWindowCount: len(d.EffectiveWindows),
		},
		TopPeriodicity:  d.TopPeriodicity,
		Alignment:       d.Alignment,
		Bidirectional:   d.Bidirectional,
		CauseRanking:    d.CauseScores,
		MissingOptional: d.MissingOptionalFiles,
	}
}

// WriteManifest marshals the manifest as indented JSON.
func WriteManifest(w io.Writer, m Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
