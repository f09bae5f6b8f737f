// Package correlate is the heart of the report phase: it buckets events
// into a per-minute timeline, derives interval/periodicity statistics,
// tests pre/post alignment around system transitions, and scores the
// four cause hypotheses against the gathered evidence.
package correlate

import (
	"sort"
	"time"

	"github.com/streamlens/jitterlens/internal/eventstore"
	"github.com/streamlens/jitterlens/internal/model"
	"github.com/streamlens/jitterlens/internal/stats"
)

// TimelineMinute is one minute bucket of the full-range event timeline.
type TimelineMinute struct {
	Minute        string
	Counts        map[model.EventType]int
	WakelockSpike bool
}

// PublicEventTypes is the classified column set the per-minute timeline
// reports counts for.
var PublicEventTypes = []model.EventType{
	model.EventScan, model.EventRoam, model.EventDisconnect, model.EventConnect,
	model.EventDHCP, model.EventRSSIChange, model.EventLinkSpeedChange,
	model.EventValidation, model.EventCaptivePortal,
	model.EventDozeEnter, model.EventDozeExit, model.EventIdleEnter, model.EventIdleExit,
	model.EventBatterySaverOn, model.EventBatterySaverOff,
	model.EventWifiOn, model.EventWifiOff, model.EventWifiIfaceUp, model.EventWifiIfaceDown,
	model.EventAlarmQueueJump, model.EventAlarmWakeupBurst, model.EventAlarmWakeupSoon,
	model.EventJobActiveSpike, model.EventWakelockSpike,
	model.EventConnDefaultSwitch, model.EventConnDefaultTransportChange,
}

const minuteKeyLayout = "2006-01-02 15:04"

// BuildTimeline buckets every stored event by minute key across
// [start, end] inclusive, then flags wakelock-spike minutes where the
// per-minute hit count exceeds median+1.5*IQR and is positive.
func BuildTimeline(store *eventstore.Store, start, end time.Time) []TimelineMinute {
	keys := minuteKeys(start, end)
	byMinute := make(map[string]map[model.EventType]int, len(keys))
	for _, k := range keys {
		byMinute[k] = map[model.EventType]int{}
	}
	for _, e := range store.All() {
		k := e.TS.Format(minuteKeyLayout)
		m, ok := byMinute[k]
		if !ok {
			continue
		}
		m[e.Type]++
	}

	totals := make([]float64, 0, len(keys))
	for _, k := range keys {
		total := 0
		for _, t := range PublicEventTypes {
			if t == model.EventWakelockSpike {
				continue
			}
			total += byMinute[k][t]
		}
		totals = append(totals, float64(total))
	}
	sorted := stats.SortedCopy(totals)
	med := stats.Median(sorted)
	_, _, iqr := stats.IQR(sorted)
	spikeThreshold := med + 1.5*iqr

	out := make([]TimelineMinute, 0, len(keys))
	for i, k := range keys {
		spike := totals[i] > spikeThreshold && totals[i] > 0
		if spike {
			byMinute[k][model.EventWakelockSpike] = 1
		}
		out = append(out, TimelineMinute{Minute: k, Counts: byMinute[k], WakelockSpike: spike})
	}
	return out
}

func minuteKeys(start, end time.Time) []string {
	var keys []string
	cur := start.Truncate(time.Minute)
	last := end.Truncate(time.Minute)
	for !cur.After(last) {
		keys = append(keys, cur.Format(minuteKeyLayout))
		cur = cur.Add(time.Minute)
	}
	return keys
}

// IntervalStat is the derived gap statistics for one interval-bearing
// event type.
type IntervalStat struct {
	Type    model.EventType
	Count   int
	P25     float64
	P50     float64
	P75     float64
	TopBins []stats.HistogramBin
}

// IntervalStats computes sorted inter-event gaps (seconds) for each
// type, reporting count/p25/p50/p75 (via an approximate t-digest;
// Periodicity scores the exact gaps and uses no digest) plus the
// top-3 30-second-resolution bins.
func IntervalStats(store *eventstore.Store, types []model.EventType) []IntervalStat {
	out := make([]IntervalStat, 0, len(types))
	for _, t := range types {
		ts := store.Timestamps(t)
		gaps := stats.Gaps(ts)
		d := stats.NewGapDigest()
		for _, g := range gaps {
			d.Add(g)
		}
		bins := stats.Histogram(gaps, 30)
		out = append(out, IntervalStat{
			Type:    t,
			Count:   len(gaps),
			P25:     d.Quantile(0.25),
			P50:     d.Quantile(0.50),
			P75:     d.Quantile(0.75),
			TopBins: stats.TopNBins(bins, 3),
		})
	}
	return out
}

// PeriodicityEntry is one type's best-matching candidate period.
type PeriodicityEntry struct {
	Type   model.EventType
	Result stats.PeriodicityResult
}

// Periodicity tests each type's gaps against the closed target-period
// set and returns the top-3 entries by score.
func Periodicity(store *eventstore.Store, types []model.EventType) []PeriodicityEntry {
	entries := make([]PeriodicityEntry, 0, len(types))
	for _, t := range types {
		gaps := stats.Gaps(store.Timestamps(t))
		entries = append(entries, PeriodicityEntry{Type: t, Result: stats.ScorePeriodicity(gaps)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Result.Score > entries[j].Result.Score })
	if len(entries) > 3 {
		entries = entries[:3]
	}
	return entries
}

// AlignmentEntry is the pre/post network-event density around one
// transition type.
type AlignmentEntry struct {
	Type      model.EventType
	Pre       int
	Post      int
	Ratio     float64
	Increased bool
}

// TransitionTypes is the set of transitions pre/post alignment is
// computed for.
var TransitionTypes = []model.EventType{
	model.EventDozeEnter, model.EventDozeExit, model.EventIdleEnter, model.EventIdleExit,
	model.EventBatterySaverOn, model.EventBatterySaverOff,
	model.EventWifiOn, model.EventWifiOff, model.EventWifiIfaceUp, model.EventWifiIfaceDown,
}

// NetworkEventTypes is the set counted in the 60s pre/post windows.
var NetworkEventTypes = []model.EventType{
	model.EventDisconnect, model.EventConnect, model.EventDHCP, model.EventValidation,
	model.EventCaptivePortal, model.EventRSSIChange, model.EventLinkSpeedChange, model.EventScan, model.EventRoam,
}

// PreAlignment computes, for each transition type, the count of
// network-type events in the 60s window before and after each
// transition point, aggregated across all transition occurrences.
func PreAlignment(store *eventstore.Store) []AlignmentEntry {
	var networkTS []time.Time
	for _, t := range NetworkEventTypes {
		networkTS = append(networkTS, store.Timestamps(t)...)
	}
	sort.Slice(networkTS, func(i, j int) bool { return networkTS[i].Before(networkTS[j]) })

	out := make([]AlignmentEntry, 0, len(TransitionTypes))
	for _, tt := range TransitionTypes {
		points := store.Timestamps(tt)
		var pre, post int
		for _, p := range points {
			preLo := stats.LowerBound(networkTS, p.Add(-60*time.Second))
			preHi := stats.LowerBound(networkTS, p)
			pre += preHi - preLo
			postLo := stats.UpperBound(networkTS, p)
			postHi := stats.UpperBound(networkTS, p.Add(60*time.Second))
			post += postHi - postLo
		}
		ratio := 0.0
		if pre > 0 {
			ratio = float64(post) / float64(pre)
		} else if post > 0 {
			ratio = float64(post)
		}
		increased := float64(post) >= 1.5*float64(pre) && post-pre >= 2
		out = append(out, AlignmentEntry{Type: tt, Pre: pre, Post: post, Ratio: ratio, Increased: increased})
	}
	return out
}

// NearPointResult is the aggregate of the near-point counting primitive
// over a set of anchors.
type NearPointResult struct {
	Total        int
	HitRatio     float64
	AvgPerAnchor float64
}

// NearPointCounts computes, for each anchor in A, the count of points in
// P within [a-W, a+W] via binary search, then aggregates totals, hit
// ratio (fraction of anchors with >=1 hit), and average count per
// anchor.
func NearPointCounts(anchors, points []time.Time, window time.Duration) NearPointResult {
	if len(anchors) == 0 {
		return NearPointResult{}
	}
	sortedPoints := make([]time.Time, len(points))
	copy(sortedPoints, points)
	sort.Slice(sortedPoints, func(i, j int) bool { return sortedPoints[i].Before(sortedPoints[j]) })

	total := 0
	hits := 0
	for _, a := range anchors {
		c := stats.CountInWindow(sortedPoints, a, window)
		total += c
		if c > 0 {
			hits++
		}
	}
	return NearPointResult{
		Total:        total,
		HitRatio:     float64(hits) / float64(len(anchors)),
		AvgPerAnchor: float64(total) / float64(len(anchors)),
	}
}
