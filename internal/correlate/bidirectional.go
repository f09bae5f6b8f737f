package correlate

import (
	"math"
	"sort"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
	"github.com/streamlens/jitterlens/internal/stats"
)

// Direction classifies which side of the path the latency is coming
// from.
type Direction string

const (
	DirBidirectional       Direction = "bidirectional"
	DirDeviceUplinkDom     Direction = "device_uplink_dominant"
	DirHostDownlinkDom     Direction = "host_downlink_dominant"
	DirMixedOrPathSpecific Direction = "mixed_or_path_specific"
	DirInconclusive        Direction = "inconclusive"
	DirNoData              Direction = "no_data"
)

// BidirectionalResult is the alignment and classification of device vs.
// host-side ping focus.
type BidirectionalResult struct {
	BurstOverlap    float64
	PairedCount     int
	UnpairedA       int
	UnpairedB       int
	CoverageA       float64
	CoverageB       float64
	MeanSignedDelta float64
	P50AbsDelta     float64
	P95AbsDelta     float64
	MaxAbsDelta     float64
	Direction       Direction
	Confidence      model.Confidence
	Findings        []string
}

// Finding keys emitted into BidirectionalResult.Findings.
const (
	FindingDeviceOnlyHighLatency = "device_only_high_latency"
	FindingHostOnlyHighLatency   = "host_only_high_latency"
)

// Analyze compares device-side samples A against host-side samples B.
func Analyze(samplesA, samplesB []model.PingSample, burstsA, burstsB []model.HighLatencyBurst, intervalA, intervalB float64) BidirectionalResult {
	if len(samplesA) == 0 && len(samplesB) == 0 {
		return BidirectionalResult{Direction: DirNoData, Confidence: model.ConfidenceLow}
	}

	overlap := burstOverlap(burstsA, burstsB, time.Second)

	window := alignWindow(intervalA, intervalB)
	paired, unpairedA, unpairedB, deltas := alignSamples(samplesA, samplesB, window)

	coverageA := coverage(len(samplesA), paired)
	coverageB := coverage(len(samplesB), paired)

	var sumSigned float64
	absDeltas := make([]float64, len(deltas))
	for i, d := range deltas {
		sumSigned += d
		absDeltas[i] = math.Abs(d)
	}
	meanSigned := 0.0
	if len(deltas) > 0 {
		meanSigned = sumSigned / float64(len(deltas))
	}
	sortedAbs := stats.SortedCopy(absDeltas)

	scoreA := dominanceScore(samplesA, burstsA)
	scoreB := dominanceScore(samplesB, burstsB)
	dir := classifyDirection(scoreA, scoreB, overlap)

	return BidirectionalResult{
		BurstOverlap:    overlap,
		PairedCount:     paired,
		UnpairedA:       unpairedA,
		UnpairedB:       unpairedB,
		CoverageA:       coverageA,
		CoverageB:       coverageB,
		MeanSignedDelta: meanSigned,
		P50AbsDelta:     stats.Median(sortedAbs),
		P95AbsDelta:     stats.Quantile(sortedAbs, 0.95),
		MaxAbsDelta:     maxOf(sortedAbs),
		Direction:       dir,
		Confidence:      dominanceConfidence(dir, scoreA, scoreB),
		Findings:        autoFindings(dir),
	}
}

func alignWindow(intervalA, intervalB float64) time.Duration {
	maxInterval := intervalA
	if intervalB > maxInterval {
		maxInterval = intervalB
	}
	ms := maxInterval * 1500
	if ms < 120 {
		ms = 120
	}
	return time.Duration(math.Round(ms)) * time.Millisecond
}

// alignSamples runs a two-pointer sweep pairing successful samples of A
// and B within window, returning paired count, unpaired counts, and the
// signed latency deltas (A-B) for paired samples.
func alignSamples(samplesA, samplesB []model.PingSample, window time.Duration) (paired, unpairedA, unpairedB int, deltas []float64) {
	a := successfulSorted(samplesA)
	b := successfulSorted(samplesB)
	usedB := make([]bool, len(b))

	i, j := 0, 0
	for i < len(a) {
		for j < len(b) && b[j].TS.Before(a[i].TS.Add(-window)) {
			j++
		}
		matched := false
		for k := j; k < len(b) && !b[k].TS.After(a[i].TS.Add(window)); k++ {
			if usedB[k] {
				continue
			}
			usedB[k] = true
			paired++
			deltas = append(deltas, *a[i].LatencyMs-*b[k].LatencyMs)
			matched = true
			break
		}
		if !matched {
			unpairedA++
		}
		i++
	}
	for _, used := range usedB {
		if !used {
			unpairedB++
		}
	}
	return paired, unpairedA, unpairedB, deltas
}

func successfulSorted(samples []model.PingSample) []model.PingSample {
	var out []model.PingSample
	for _, s := range samples {
		if s.Success && s.LatencyMs != nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

func coverage(total, paired int) float64 {
	if total == 0 {
		return 0
	}
	return float64(paired) / float64(total)
}

func burstOverlap(burstsA, burstsB []model.HighLatencyBurst, tolerance time.Duration) float64 {
	if len(burstsA) == 0 || len(burstsB) == 0 {
		return 0
	}
	overlapping := 0
	for _, ba := range burstsA {
		for _, bb := range burstsB {
			if rangesOverlap(ba.StartTS.Add(-tolerance), ba.EndTS.Add(tolerance), bb.StartTS, bb.EndTS) {
				overlapping++
				break
			}
		}
	}
	return float64(overlapping) / float64(len(burstsA))
}

func rangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

const dominanceThreshold = 1.35

func classifyDirection(scoreA, scoreB, overlap float64) Direction {
	if scoreA == 0 && scoreB == 0 {
		return DirInconclusive
	}
	if overlap >= 0.4 {
		return DirBidirectional
	}
	switch {
	case scoreA >= dominanceThreshold*scoreB && scoreB > 0:
		return DirDeviceUplinkDom
	case scoreB == 0 && scoreA > 0:
		return DirDeviceUplinkDom
	case scoreB >= dominanceThreshold*scoreA && scoreA > 0:
		return DirHostDownlinkDom
	case scoreA == 0 && scoreB > 0:
		return DirHostDownlinkDom
	default:
		return DirMixedOrPathSpecific
	}
}

// dominanceConfidence rates how strongly one side's score beats the
// other, reusing the same ratio classifyDirection gated on. A direction
// can only be *Dom in the first place with ratio >= dominanceThreshold,
// so that ratio floors at medium; a clearer blowout earns high.
func dominanceConfidence(dir Direction, scoreA, scoreB float64) model.Confidence {
	var ratio float64
	switch dir {
	case DirDeviceUplinkDom:
		ratio = dominanceRatio(scoreA, scoreB)
	case DirHostDownlinkDom:
		ratio = dominanceRatio(scoreB, scoreA)
	default:
		return model.ConfidenceLow
	}
	if ratio >= 2.5 {
		return model.ConfidenceHigh
	}
	return model.ConfidenceMedium
}

func dominanceRatio(winner, loser float64) float64 {
	if loser == 0 {
		return math.Inf(1)
	}
	return winner / loser
}

// autoFindings derives the report's auto-generated findings list from
// the classified direction.
func autoFindings(dir Direction) []string {
	switch dir {
	case DirDeviceUplinkDom:
		return []string{FindingDeviceOnlyHighLatency}
	case DirHostDownlinkDom:
		return []string{FindingHostOnlyHighLatency}
	default:
		return nil
	}
}

func dominanceScore(samples []model.PingSample, bursts []model.HighLatencyBurst) float64 {
	var lats []float64
	for _, s := range samples {
		if s.Success && s.LatencyMs != nil {
			lats = append(lats, *s.LatencyMs)
		}
	}
	if len(lats) == 0 {
		return 0
	}
	sorted := stats.SortedCopy(lats)
	p95 := stats.Quantile(sorted, 0.95)
	maxLat := sorted[len(sorted)-1]
	return p95 + 0.4*maxLat + 6*float64(len(bursts))
}

func maxOf(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[len(sorted)-1]
}
