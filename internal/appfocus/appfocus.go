// Package appfocus extracts streaming-client metrics and anomalies from
// threadtime logcat lines: a structured INTERNAL_STATS grammar, a bank
// of legacy regex extractors, and anomaly pattern detection.
package appfocus

import (
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/streamlens/jitterlens/internal/model"
)

// NoisePolicy controls how aggressively preconnect polling noise is
// suppressed.
type NoisePolicy string

const (
	NoisePolicyBalanced     NoisePolicy = "balanced"
	NoisePolicyAggressive   NoisePolicy = "aggressive"
	NoisePolicyConservative NoisePolicy = "conservative"
)

// PhaseResolver supplies phase/session membership for a timestamp; C7's
// Resolver implements this.
type PhaseResolver interface {
	PhaseAt(ts time.Time) model.Phase
	InSessionAt(ts time.Time) bool
}

// Result is everything extracted from one line.
type Result struct {
	InternalStats *model.InternalStatsSample
	Metrics       []model.AppMetricSample
	Anomaly       *model.AppAnomaly
	Kept          bool
}

var reAppTagHint = regexp.MustCompile(`(?i)moonlight|sunshine|streamclient|streaming`)

// LooksLikeAppLine heuristically decides whether a line belongs to the
// streaming client, via tag or content hints.
func LooksLikeAppLine(tag, message string) bool {
	return reAppTagHint.MatchString(tag) || reAppTagHint.MatchString(message) ||
		reInternalStats.MatchString(message) || reStreamSession.MatchString(message)
}

var reInternalStats = regexp.MustCompile(`\[INTERNAL_STATS\]`)
var reStreamSession = regexp.MustCompile(`\[STREAM_SESSION\]`)

// Extractor holds the extraction state (anomaly dedupe set) across a run.
type Extractor struct {
	resolver    PhaseResolver
	noisePolicy NoisePolicy
	seenAnomaly map[[3]string]bool
	celPrg      cel.Program
}

// New constructs an Extractor.
func New(resolver PhaseResolver, policy NoisePolicy) *Extractor {
	return &Extractor{resolver: resolver, noisePolicy: policy, seenAnomaly: map[[3]string]bool{}}
}

// NewWithOverride is like New but additionally compiles an operator
// CEL expression evaluated over each candidate line's extracted fields
// (phase, tag, hasMetric, hasAnomaly, isWarnOrError) to force-keep
// (returns true) or force-drop (returns false) lines beyond the
// built-in noise policy. Any compile error is logged and leaves the
// override unset, so the built-in noise policy alone decides.
func NewWithOverride(resolver PhaseResolver, policy NoisePolicy, expr string) *Extractor {
	x := New(resolver, policy)
	if expr == "" {
		return x
	}
	env, err := cel.NewEnv(
		cel.Variable("phase", cel.StringType),
		cel.Variable("tag", cel.StringType),
		cel.Variable("hasMetric", cel.BoolType),
		cel.Variable("hasAnomaly", cel.BoolType),
		cel.Variable("isWarnOrError", cel.BoolType),
	)
	if err != nil {
		log.Printf("[appfocus] cel env init error: %v; noise override disabled", err)
		return x
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		log.Printf("[appfocus] cel parse error for expr %q: %v; noise override disabled", expr, iss.Err())
		return x
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		checked = ast
	}
	prg, err := env.Program(checked)
	if err != nil {
		log.Printf("[appfocus] cel program error: %v; noise override disabled", err)
		return x
	}
	x.celPrg = prg
	return x
}

// evalOverride returns (decided, keep). decided is false when there is
// no override configured or evaluation fails (fail-open: caller keeps
// the built-in decision).
func (x *Extractor) evalOverride(phase model.Phase, tag string, hasMetric, hasAnomaly, warnOrError bool) (decided, keep bool) {
	if x.celPrg == nil {
		return false, false
	}
	out, _, err := x.celPrg.Eval(map[string]any{
		"phase":         string(phase),
		"tag":           tag,
		"hasMetric":     hasMetric,
		"hasAnomaly":    hasAnomaly,
		"isWarnOrError": warnOrError,
	})
	if err != nil {
		return false, false
	}
	if b, ok := out.Value().(bool); ok {
		return true, b
	}
	return false, false
}

// Process classifies one line and extracts whatever metrics/anomalies it
// carries.
func (x *Extractor) Process(ts time.Time, tag, appTag, message, rawLine string) Result {
	phase := model.PhaseUnknown
	inSession := false
	if x.resolver != nil {
		phase = x.resolver.PhaseAt(ts)
		inSession = x.resolver.InSessionAt(ts)
	}

	var res Result
	hasMetric := false

	if stats, ok := parseInternalStats(message, ts, phase, inSession); ok {
		res.InternalStats = &stats
		res.Metrics = append(res.Metrics, internalStatsToSamples(stats)...)
		hasMetric = true
	}

	for _, m := range legacyExtract(message, ts, phase, inSession) {
		res.Metrics = append(res.Metrics, m)
		hasMetric = true
	}

	anomalyType, severity, warnOrError := detectAnomaly(message, appTag)
	hasAnomaly := false
	if anomalyType != "" {
		key := [3]string{ts.Format(time.RFC3339Nano), anomalyType, rawLine}
		if !x.seenAnomaly[key] {
			x.seenAnomaly[key] = true
			res.Anomaly = &model.AppAnomaly{
				TS: ts, Type: anomalyType, Severity: severity,
				WarnOrError: warnOrError, Phase: phase, InSession: inSession, Line: rawLine,
			}
			hasAnomaly = true
		}
	}

	hasSessionMarker := reInternalStats.MatchString(message) || reStreamSession.MatchString(message)

	if decided, keep := x.evalOverride(phase, tag, hasMetric, hasAnomaly, warnOrError); decided {
		res.Kept = keep
		return res
	}

	if isPreconnectPollingNoise(message) {
		if !(x.noisePolicy == NoisePolicyConservative && phase == model.PhaseStream) {
			res.Kept = false
			return res
		}
	}
	if isKnownAppNoise(message) {
		res.Kept = false
		return res
	}

	res.Kept = hasMetric || hasAnomaly || hasSessionMarker || warnOrError
	if x.noisePolicy == NoisePolicyAggressive && !inSession {
		res.Kept = hasMetric || hasAnomaly
	}
	return res
}

var reInternalStatsGrammar = regexp.MustCompile(
	`\[INTERNAL_STATS\].*?fps_total=([\d.]+).*?fps_rx=([\d.]+).*?fps_rd=([\d.]+).*?` +
		`loss_frames=(\d+).*?loss_total=(\d+).*?loss_pct=([\d.]+).*?loss_events=(\d+).*?` +
		`rtt_ms=([\d.]+).*?rtt_var_ms=([\d.]+).*?decode_ms=([\d.]+).*?render_ms=([\d.]+).*?total_ms=([\d.]+).*?` +
		`host_lat_min_ms=([\d.]+).*?host_lat_max_ms=([\d.]+).*?host_lat_avg_ms=([\d.]+)(?:.*?decoder=(\S+))?(?:.*?hdr=(true|false))?`)

func parseInternalStats(message string, ts time.Time, phase model.Phase, inSession bool) (model.InternalStatsSample, bool) {
	m := reInternalStatsGrammar.FindStringSubmatch(message)
	if m == nil {
		return model.InternalStatsSample{}, false
	}
	f := func(i int) float64 {
		v, _ := strconv.ParseFloat(m[i], 64)
		return v
	}
	ival := func(i int) int {
		v, _ := strconv.Atoi(m[i])
		return v
	}
	s := model.InternalStatsSample{
		TS: ts, Phase: phase, InSession: inSession,
		FPSTotal: f(1), FPSRx: f(2), FPSRd: f(3),
		LossFrames: ival(4), LossTotal: ival(5), LossPct: f(6), LossEvents: ival(7),
		RTTMs: f(8), RTTVarMs: f(9), DecodeMs: f(10), RenderMs: f(11), TotalMs: f(12),
		HostLatMinMs: f(13), HostLatMaxMs: f(14), HostLatAvgMs: f(15),
	}
	if m[16] != "" {
		s.Decoder = m[16]
	}
	if m[17] == "true" {
		s.HDR = true
	}
	return s, true
}

func internalStatsToSamples(s model.InternalStatsSample) []model.AppMetricSample {
	mk := func(t model.AppMetricType, v float64, unit string) model.AppMetricSample {
		return model.AppMetricSample{
			TS: s.TS, Type: t, Value: v, Unit: unit, Phase: s.Phase, InSession: s.InSession,
			Confidence: 1.0, MetricSource: model.MetricSourceInternalStats,
		}
	}
	return []model.AppMetricSample{
		mk(model.MetricFPSTotal, s.FPSTotal, "fps"),
		mk(model.MetricFPSRx, s.FPSRx, "fps"),
		mk(model.MetricFPSRd, s.FPSRd, "fps"),
		mk(model.MetricLossFrames, float64(s.LossFrames), "frames"),
		mk(model.MetricLossTotal, float64(s.LossTotal), "frames"),
		mk(model.MetricLossPct, s.LossPct, "pct"),
		mk(model.MetricLossEvents, float64(s.LossEvents), "count"),
		mk(model.MetricRTTMs, s.RTTMs, "ms"),
		mk(model.MetricRTTVarMs, s.RTTVarMs, "ms"),
		mk(model.MetricDecodeMs, s.DecodeMs, "ms"),
		mk(model.MetricRenderMs, s.RenderMs, "ms"),
		mk(model.MetricTotalMs, s.TotalMs, "ms"),
		mk(model.MetricHostLatMinMs, s.HostLatMinMs, "ms"),
		mk(model.MetricHostLatMaxMs, s.HostLatMaxMs, "ms"),
		mk(model.MetricHostLatAvgMs, s.HostLatAvgMs, "ms"),
	}
}

type legacyPattern struct {
	re   *regexp.Regexp
	emit func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample
}

func legacySample(t model.AppMetricType, v float64, unit string, ts time.Time, phase model.Phase, inSession bool) model.AppMetricSample {
	return model.AppMetricSample{
		TS: ts, Type: t, Value: v, Unit: unit, Phase: phase, InSession: inSession,
		Confidence: 0.7, MetricSource: model.MetricSourceLegacyPattern,
	}
}

var legacyPatterns = []legacyPattern{
	{
		re: regexp.MustCompile(`(?i)fps[:=]?\s*(\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricFPSPair, v, "fps", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)rtt[:=]?\s*(\d+(?:\.\d+)?)\s*ms.*?(?:jitter|var)[:=]?\s*(\d+(?:\.\d+)?)\s*ms`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[2], 64)
			return []model.AppMetricSample{legacySample(model.MetricRTTJitterMs, v, "ms", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)loss\s*rate[:=]?\s*(\d+(?:\.\d+)?)\s*%`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricLossRatePct, v, "pct", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)sync\s*offset[:=]?\s*(-?\d+(?:\.\d+)?)\s*ms`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricSyncOffsetMs, v, "ms", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)pending\s*audio[:=]?\s*(\d+(?:\.\d+)?)\s*ms`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricPendingAudioMs, v, "ms", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)timeout[:=]?\s*(\d+(?:\.\d+)?)\s*ms`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricTimeoutConfigMs, v, "ms", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)conn(?:ection)?\s*stats?.*?rtt[:=]?\s*(\d+(?:\.\d+)?)\s*ms`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricConnStatsRTTMs, v, "ms", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)e2e\s*latency[:=]?\s*(\d+(?:\.\d+)?)\s*ms`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricE2ELatencyMs, v, "ms", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)decoder\s*latency[:=]?\s*(\d+(?:\.\d+)?)\s*ms`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricDecoderLatencyMs, v, "ms", ts, phase, inSession)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)display\s*refresh[:=]?\s*(\d+(?:\.\d+)?)\s*hz`),
		emit: func(m []string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
			v, _ := strconv.ParseFloat(m[1], 64)
			return []model.AppMetricSample{legacySample(model.MetricDisplayRefreshHz, v, "hz", ts, phase, inSession)}
		},
	},
}

func legacyExtract(message string, ts time.Time, phase model.Phase, inSession bool) []model.AppMetricSample {
	var out []model.AppMetricSample
	for _, p := range legacyPatterns {
		if m := p.re.FindStringSubmatch(message); m != nil {
			out = append(out, p.emit(m, ts, phase, inSession)...)
		}
	}
	return out
}

var (
	reNetworkUnstable  = regexp.MustCompile(`(?i)network (is )?unstable`)
	reConnFailure      = regexp.MustCompile(`(?i)connection failed|failed to connect`)
	rePollFailedQuick  = regexp.MustCompile(`(?i)poll failed quickly|poll.*failed.*fast`)
	reOffline          = regexp.MustCompile(`(?i)\bis offline\b|went offline`)
	rePendingAudioBack = regexp.MustCompile(`(?i)pending audio backlog|audio backlog`)
	reStageFailed      = regexp.MustCompile(`(?i)stage failed|\bTERMINATED\b`)
	reFramePacing      = regexp.MustCompile(`(?i)frame pacing|frame skip|skipped frame`)
)

func detectAnomaly(message, appTag string) (anomalyType string, severity model.AnomalySeverity, warnOrError bool) {
	switch {
	case reNetworkUnstable.MatchString(message):
		return "network_unstable", model.SeverityWarn, false
	case reConnFailure.MatchString(message):
		return "connection_failure", model.SeverityError, false
	case rePollFailedQuick.MatchString(message):
		return "poll_failed_quickly", model.SeverityWarn, false
	case reOffline.MatchString(message):
		return "offline", model.SeverityError, false
	case rePendingAudioBack.MatchString(message):
		return "pending_audio_backlog", model.SeverityWarn, false
	case reStageFailed.MatchString(message):
		return "stage_failed_or_terminated", model.SeverityFatal, false
	case reFramePacing.MatchString(message):
		return "frame_pacing_or_skip", model.SeverityWarn, false
	}
	if appTag != "" && isErrorLevelTag(message) {
		return "app_tag_warn_or_error", model.SeverityAppTag, true
	}
	return "", "", false
}

func isErrorLevelTag(message string) bool {
	return strings.Contains(message, "WARN") || strings.Contains(message, "ERROR") ||
		strings.Contains(message, "Exception")
}

var rePreconnectPoll = regexp.MustCompile(`(?i)poll(ing)? for (pre)?connect`)
var reKnownAppNoise = regexp.MustCompile(`(?i)heartbeat tick|debug trace id`)

func isPreconnectPollingNoise(message string) bool {
	return rePreconnectPoll.MatchString(message)
}

func isKnownAppNoise(message string) bool {
	return reKnownAppNoise.MatchString(message)
}
