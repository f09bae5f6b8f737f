package correlate

import (
	"sort"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
	"github.com/streamlens/jitterlens/internal/stats"
)

// CauseInputs bundles every precomputed scalar/slice input the four
// cause hypotheses are scored against; callers assemble this from the
// appfocus, pingparse, and eventstore outputs.
type CauseInputs struct {
	JitterPoints      []time.Time
	HighLatencyStarts []time.Time
	AppAnomalyTS      []time.Time
	RTTVarSamples     []model.AppMetricSample
	DecodeMsSamples   []model.AppMetricSample
	RenderMsSamples   []model.AppMetricSample
	TotalMsSamples    []model.AppMetricSample
	LossPctSamples    []model.AppMetricSample
	FPSSamples        []model.AppMetricSample

	LossPct          float64
	P95LatencyMs      float64
	P95JitterDeltaMs  float64

	DisconnectTS    []time.Time
	DHCPTS          []time.Time
	DozeEnterExitTS []time.Time
	IdleEnterExitTS []time.Time
	ConnectTS       []time.Time

	Degraded bool
}

// RankCauses scores the four fixed cause hypotheses against in and
// returns them sorted by score descending.
func RankCauses(in CauseInputs) []model.CauseScore {
	scores := []model.CauseScore{
		scoreNetworkPathJitter(in),
		scoreRTTVarianceBurst(in),
		scoreDecodeRenderOverload(in),
		scoreSystemTransitionInterference(in),
	}
	for i := range scores {
		s := scores[i].Overlap*0.5 + scores[i].LeadLag*0.3 + scores[i].Intensity*0.2
		s = stats.Clamp01(s)
		if in.Degraded {
			s *= 0.7
		}
		scores[i].Score = s
		scores[i].Level = levelFor(s)
		if in.Degraded {
			scores[i].Confidence = model.ConfidenceLow
		} else {
			scores[i].Confidence = confidenceFor(s)
		}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	return scores
}

func levelFor(score float64) model.Level {
	switch {
	case score >= 0.70:
		return model.LevelHigh
	case score >= 0.45:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

func confidenceFor(score float64) model.Confidence {
	switch {
	case score >= 0.70:
		return model.ConfidenceHigh
	case score >= 0.45:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

const w1s = time.Second

func hitRatio(points, anchors []time.Time, window time.Duration) float64 {
	return NearPointCounts(anchors, points, window).HitRatio
}

func scoreNetworkPathJitter(in CauseInputs) model.CauseScore {
	overlap := stats.Clamp01(1.2 * hitRatio(in.AppAnomalyTS, in.JitterPoints, w1s))
	leadLag := stats.Clamp01(1.2 * hitRatio(in.AppAnomalyTS, in.HighLatencyStarts, w1s))

	lossComp := stats.Norm(in.LossPct, 0, 2)
	latComp := stats.Norm(in.P95LatencyMs, 12, 40)
	jitComp := stats.Norm(in.P95JitterDeltaMs, 8, 60)
	intensity := (lossComp + latComp + jitComp) / 3

	ev := evidenceFromSamples("loss_pct", in.LossPctSamples, in.JitterPoints, w1s, 3)
	ev = fallbackEvidence(ev, overlap, leadLag, intensity)

	return model.CauseScore{Cause: model.CauseNetworkPathJitter, Overlap: overlap, LeadLag: leadLag, Intensity: intensity, Evidence: dedupeEvidence(ev)}
}

func scoreRTTVarianceBurst(in CauseInputs) model.CauseScore {
	near := NearPointCounts(in.JitterPoints, sampleTimes(in.RTTVarSamples), w1s)
	jitterCount := maxi(1, len(in.JitterPoints))
	overlap := stats.Clamp01(float64(near.Total) / float64(jitterCount))

	avgNear := avgValueNear(in.RTTVarSamples, in.JitterPoints, w1s)
	denom := in.P95LatencyMs
	if denom <= 0 {
		denom = 20
	}
	leadLag := stats.Clamp01(avgNear / denom)

	p95RTTVar := p95Of(in.RTTVarSamples)
	intensity := stats.Norm(p95RTTVar, 5, 40)

	ev := evidenceFromSamples("rtt_var_ms", in.RTTVarSamples, in.JitterPoints, w1s, 5)
	ev = fallbackEvidence(ev, overlap, leadLag, intensity)

	return model.CauseScore{Cause: model.CauseRTTVarianceBurst, Overlap: overlap, LeadLag: leadLag, Intensity: intensity, Evidence: dedupeEvidence(ev)}
}

func scoreDecodeRenderOverload(in CauseInputs) model.CauseScore {
	jitterCount := maxi(1, len(in.JitterPoints))
	nearDecode := NearPointCounts(in.JitterPoints, sampleTimes(in.DecodeMsSamples), w1s).Total
	nearRender := NearPointCounts(in.JitterPoints, sampleTimes(in.RenderMsSamples), w1s).Total
	nearTotal := NearPointCounts(in.JitterPoints, sampleTimes(in.TotalMsSamples), w1s).Total
	nearLoss := NearPointCounts(in.JitterPoints, sampleTimes(in.LossPctSamples), w1s).Total
	sumNear := nearDecode + nearRender + nearTotal + nearLoss
	overlap := stats.Clamp01(float64(sumNear) / (float64(jitterCount) * 1.2))

	leadLag := hitRatio(in.AppAnomalyTS, in.HighLatencyStarts, w1s)
	leadLag = stats.Clamp01(leadLag)

	maxP95 := maxf(p95Of(in.TotalMsSamples), maxf(p95Of(in.DecodeMsSamples), p95Of(in.RenderMsSamples)))
	totalComp := stats.Norm(maxP95, 12, 80)
	lossComp := stats.Norm(p95Of(in.LossPctSamples), 0.5, 10)
	fpsComp := stats.Clamp01((60 - medianOf(in.FPSSamples)) / 60)
	intensity := (totalComp + lossComp + fpsComp) / 3

	ev := evidenceFromSamples("total_ms", in.TotalMsSamples, in.JitterPoints, w1s, 3)
	ev = append(ev, evidenceFromSamples("decode_ms", in.DecodeMsSamples, in.JitterPoints, w1s, 2)...)
	ev = fallbackEvidence(ev, overlap, leadLag, intensity)

	return model.CauseScore{Cause: model.CauseDecodeRenderOverload, Overlap: overlap, LeadLag: leadLag, Intensity: intensity, Evidence: dedupeEvidence(ev)}
}

func scoreSystemTransitionInterference(in CauseInputs) model.CauseScore {
	groups := [][]time.Time{in.DisconnectTS, in.DHCPTS, in.DozeEnterExitTS, in.IdleEnterExitTS, in.ConnectTS}
	maxHit := 0.0
	var sumAvgPerPoint, sumTotal float64
	for _, g := range groups {
		r := NearPointCounts(in.JitterPoints, g, w1s)
		if r.HitRatio > maxHit {
			maxHit = r.HitRatio
		}
		sumAvgPerPoint += r.AvgPerAnchor
		sumTotal += float64(r.Total)
	}
	overlap := stats.Clamp01(maxHit)
	leadLag := stats.Norm(sumAvgPerPoint, 0.01, 0.2)
	intensity := stats.Norm(sumTotal, 2, 60)

	ev := evidenceFromTimes("disconnect", in.DisconnectTS, in.JitterPoints, w1s, 2)
	ev = append(ev, evidenceFromTimes("dhcp", in.DHCPTS, in.JitterPoints, w1s, 2)...)
	ev = fallbackEvidence(ev, overlap, leadLag, intensity)

	return model.CauseScore{Cause: model.CauseSystemTransitionInterference, Overlap: overlap, LeadLag: leadLag, Intensity: intensity, Evidence: dedupeEvidence(ev)}
}

func sampleTimes(samples []model.AppMetricSample) []time.Time {
	out := make([]time.Time, len(samples))
	for i, s := range samples {
		out[i] = s.TS
	}
	return out
}

func p95Of(samples []model.AppMetricSample) float64 {
	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = s.Value
	}
	return stats.Quantile(stats.SortedCopy(vals), 0.95)
}

func medianOf(samples []model.AppMetricSample) float64 {
	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = s.Value
	}
	return stats.Median(stats.SortedCopy(vals))
}

func avgValueNear(samples []model.AppMetricSample, anchors []time.Time, window time.Duration) float64 {
	if len(samples) == 0 || len(anchors) == 0 {
		return 0
	}
	sorted := make([]model.AppMetricSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })
	ts := sampleTimes(sorted)
	var sum float64
	count := 0
	for _, a := range anchors {
		lo := stats.LowerBound(ts, a.Add(-window))
		hi := stats.UpperBound(ts, a.Add(window))
		for i := lo; i < hi && i < len(sorted); i++ {
			sum += sorted[i].Value
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func evidenceFromSamples(metric string, samples []model.AppMetricSample, anchors []time.Time, window time.Duration, limit int) []model.EvidenceRow {
	if len(samples) == 0 {
		return nil
	}
	var near []model.AppMetricSample
	if len(anchors) == 0 {
		near = samples
	} else {
		ts := sampleTimes(samples)
		for _, a := range anchors {
			lo := stats.LowerBound(ts, a.Add(-window))
			hi := stats.UpperBound(ts, a.Add(window))
			for i := lo; i < hi && i < len(samples); i++ {
				near = append(near, samples[i])
			}
		}
	}
	sort.Slice(near, func(i, j int) bool { return near[i].Value > near[j].Value })
	if len(near) > limit {
		near = near[:limit]
	}
	out := make([]model.EvidenceRow, 0, len(near))
	for _, s := range near {
		out = append(out, model.EvidenceRow{TS: s.TS, Metric: metric, Value: s.Value, Detail: string(s.MetricSource)})
	}
	return out
}

func evidenceFromTimes(metric string, points, anchors []time.Time, window time.Duration, limit int) []model.EvidenceRow {
	if len(points) == 0 {
		return nil
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	var near []time.Time
	for _, a := range anchors {
		lo := stats.LowerBound(points, a.Add(-window))
		hi := stats.UpperBound(points, a.Add(window))
		for i := lo; i < hi && i < len(points); i++ {
			near = append(near, points[i])
		}
	}
	if len(near) > limit {
		near = near[:limit]
	}
	out := make([]model.EvidenceRow, 0, len(near))
	for _, t := range near {
		out = append(out, model.EvidenceRow{TS: t, Metric: metric, Value: 1, Detail: "system_event_density"})
	}
	return out
}

func fallbackEvidence(ev []model.EvidenceRow, overlap, leadLag, intensity float64) []model.EvidenceRow {
	if len(ev) >= 3 {
		return ev
	}
	breakdown := []model.EvidenceRow{
		{Metric: "overlap", Value: overlap, Detail: "breakdown"},
		{Metric: "leadLag", Value: leadLag, Detail: "breakdown"},
		{Metric: "intensity", Value: intensity, Detail: "breakdown"},
	}
	return append(ev, breakdown...)
}

func dedupeEvidence(ev []model.EvidenceRow) []model.EvidenceRow {
	seen := map[[3]string]bool{}
	out := make([]model.EvidenceRow, 0, len(ev))
	for _, row := range ev {
		key := [3]string{row.TS.Format(time.RFC3339Nano), row.Metric, row.Detail}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
		if len(out) >= 5 {
			break
		}
	}
	return out
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
