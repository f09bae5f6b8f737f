// Package pingparse parses the two ping log dialects (device-side and
// host-side nping) into a unified PingSample timeline, deriving jitter
// events and high-latency bursts.
package pingparse

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

var rePrefix = regexp.MustCompile(
	`^\[ts_local=[^\]]*\]\[epoch_ms=(\d+)\]\[source=(device_side_ping|host_side_ping)\]\s?(.*)$`)

var (
	reBracketSeconds = regexp.MustCompile(`^\[(\d+(?:\.\d+)?)\]`)
	reICMPSeq        = regexp.MustCompile(`icmp_seq=(\d+)`)
	reICMPTime       = regexp.MustCompile(`time[=<]([\d.]+)\s*ms`)
	reSent           = regexp.MustCompile(`^SENT\s*\((\d+(?:\.\d+)?)s\)\s+ICMP.*?seq=(\d+)`)
	reRcvd           = regexp.MustCompile(`^RCVD\s*\((\d+(?:\.\d+)?)s\)\s+ICMP.*?seq=(\d+)`)
)

// PhaseResolver answers phase/session questions for a given instant; C7
// implements this.
type PhaseResolver interface {
	PhaseAt(ts time.Time) model.Phase
	InSessionAt(ts time.Time) bool
}

// ParseOptions configures a parse pass over one ping log.
type ParseOptions struct {
	CaptureStartTS time.Time
	IntervalSec    float64
	Resolver       PhaseResolver
}

// ParseResult is the full derived output for one log.
type ParseResult struct {
	Samples           []model.PingSample
	SkippedNoTsCount  int
	Transmitted       int
	Received          int
	PacketLossPct     float64
	JitterEvents      []model.JitterEvent
	HighLatencyBursts []model.HighLatencyBurst
	ThresholdMs       float64
}

type pendingSent struct {
	seq       int
	elapsedMs float64
	hasElapse bool
	epochMs   int64
	hasEpoch  bool
	matched   bool
}

// ParseDeviceLog parses a device-side ping log (plain `ping`/`ping -D`
// style output, one line per attempt).
func ParseDeviceLog(lines []string, opt ParseOptions) ParseResult {
	var samples []model.PingSample
	skipped := 0
	seqCounter := 0

	for _, raw := range lines {
		payload := raw
		var epochMs int64
		var hasEpoch bool
		if m := rePrefix.FindStringSubmatch(raw); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				epochMs = n
				hasEpoch = true
			}
			payload = m[3]
		}

		seqMatch := reICMPSeq.FindStringSubmatch(payload)
		if seqMatch == nil {
			continue
		}
		seq, _ := strconv.Atoi(seqMatch[1])
		seqCounter++

		var ts time.Time
		var tsSource model.PingTimestampSource
		switch {
		case hasEpoch:
			ts = time.UnixMilli(epochMs).UTC()
			tsSource = model.TSSourceLogPrefixEpoch
		default:
			if bm := reBracketSeconds.FindStringSubmatch(raw); bm != nil {
				secs, _ := strconv.ParseFloat(bm[1], 64)
				ts = time.UnixMilli(int64(secs * 1000)).UTC()
				tsSource = model.TSSourcePingD
			} else if opt.IntervalSec > 0 && !opt.CaptureStartTS.IsZero() {
				offset := time.Duration(float64(seqCounter-1) * opt.IntervalSec * float64(time.Second))
				ts = opt.CaptureStartTS.Add(offset)
				tsSource = model.TSSourceSeqEstimated
			} else {
				skipped++
				continue
			}
		}

		timeMatch := reICMPTime.FindStringSubmatch(payload)
		sample := model.PingSample{
			TS:       ts,
			Seq:      &seq,
			TSSource: tsSource,
			Line:     raw,
		}
		if timeMatch != nil {
			lat, _ := strconv.ParseFloat(timeMatch[1], 64)
			sample.Success = true
			sample.LatencyMs = &lat
			sample.Status = model.PingReply
		} else {
			sample.Success = false
			sample.Status = model.PingNoReply
		}
		samples = append(samples, sample)
	}

	return finalize(samples, skipped, opt)
}

// ParseHostSideLog parses an nping-style host-side log with separate
// SENT/RCVD lines, pairing them by sequence number.
func ParseHostSideLog(lines []string, opt ParseOptions) ParseResult {
	var sentList []*pendingSent
	sentBySeq := map[int][]*pendingSent{}
	var samples []model.PingSample
	skipped := 0
	maxGap := maxGapFor(opt.IntervalSec)

	parseLine := func(raw string) (payload string, epochMs int64, hasEpoch bool) {
		payload = raw
		if m := rePrefix.FindStringSubmatch(raw); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				epochMs = n
				hasEpoch = true
			}
			payload = m[3]
		}
		return payload, epochMs, hasEpoch
	}

	for _, raw := range lines {
		payload, epochMs, hasEpoch := parseLine(raw)

		if m := reSent.FindStringSubmatch(payload); m != nil {
			elapsed, _ := strconv.ParseFloat(m[1], 64)
			seq, _ := strconv.Atoi(m[2])
			ps := &pendingSent{seq: seq, elapsedMs: elapsed * 1000, hasElapse: true}
			if hasEpoch {
				ps.epochMs = epochMs
				ps.hasEpoch = true
			}
			sentList = append(sentList, ps)
			sentBySeq[seq] = append(sentBySeq[seq], ps)
			continue
		}

		if m := reRcvd.FindStringSubmatch(payload); m != nil {
			elapsed, _ := strconv.ParseFloat(m[1], 64)
			seq, _ := strconv.Atoi(m[2])
			rcvdElapsedMs := elapsed * 1000

			var match *pendingSent
			if cands, ok := sentBySeq[seq]; ok {
				for _, c := range cands {
					if !c.matched {
						match = c
						break
					}
				}
			}
			if match == nil {
				match = nearestUnmatchedSent(sentList, rcvdElapsedMs, epochMs, hasEpoch)
			}
			if match == nil {
				skipped++
				continue
			}

			var deltaMs float64
			if match.hasElapse {
				deltaMs = rcvdElapsedMs - match.elapsedMs
			} else if match.hasEpoch && hasEpoch {
				deltaMs = float64(epochMs - match.epochMs)
			} else {
				skipped++
				continue
			}
			if deltaMs < 0 || deltaMs > maxGap || deltaMs > 60000 {
				skipped++
				continue
			}
			match.matched = true

			var ts time.Time
			var tsSource model.PingTimestampSource
			if hasEpoch {
				ts = time.UnixMilli(epochMs).UTC()
				tsSource = model.TSSourceLogPrefixEpoch
			} else if !opt.CaptureStartTS.IsZero() {
				ts = opt.CaptureStartTS
				tsSource = model.TSSourceUnknown
			}

			lat := deltaMs
			seqCopy := seq
			samples = append(samples, model.PingSample{
				TS:        ts,
				Seq:       &seqCopy,
				Success:   true,
				LatencyMs: &lat,
				Status:    model.PingReply,
				TSSource:  tsSource,
				Line:      raw,
			})
		}
	}

	transmitted := len(sentList)
	received := 0
	for _, s := range sentList {
		if s.matched {
			received++
			continue
		}
		seqCopy := s.seq
		var ts time.Time
		var tsSource model.PingTimestampSource
		if s.hasEpoch {
			ts = time.UnixMilli(s.epochMs).UTC()
			tsSource = model.TSSourceLogPrefixEpoch
		} else if !opt.CaptureStartTS.IsZero() {
			ts = opt.CaptureStartTS
			tsSource = model.TSSourceUnknown
		}
		samples = append(samples, model.PingSample{
			TS:       ts,
			Seq:      &seqCopy,
			Success:  false,
			Status:   model.PingNoReply,
			TSSource: tsSource,
		})
	}

	result := finalize(samples, skipped, opt)
	result.Transmitted = transmitted
	result.Received = received
	if transmitted > 0 {
		result.PacketLossPct = 100 * float64(transmitted-received) / float64(transmitted)
	}
	return result
}

func nearestUnmatchedSent(list []*pendingSent, rcvdElapsedMs float64, rcvdEpoch int64, hasEpoch bool) *pendingSent {
	var best *pendingSent
	bestDiff := -1.0
	for _, c := range list {
		if c.matched {
			continue
		}
		var diff float64
		if c.hasElapse {
			diff = absf(rcvdElapsedMs - c.elapsedMs)
		} else if c.hasEpoch && hasEpoch {
			diff = absf(float64(rcvdEpoch - c.epochMs))
		} else {
			continue
		}
		if bestDiff < 0 || diff < bestDiff {
			bestDiff = diff
			best = c
		}
	}
	return best
}

func maxGapFor(intervalSec float64) float64 {
	g := intervalSec * 1000 * 8
	if g < 1000 {
		g = 1000
	}
	return g
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// finalize sorts samples by ts, resolves phase/inSession via the
// resolver, and derives threshold/jitter/burst statistics.
func finalize(samples []model.PingSample, skipped int, opt ParseOptions) ParseResult {
	sort.Slice(samples, func(i, j int) bool { return samples[i].TS.Before(samples[j].TS) })

	if opt.Resolver != nil {
		for i := range samples {
			samples[i].Phase = opt.Resolver.PhaseAt(samples[i].TS)
			samples[i].InSession = opt.Resolver.InSessionAt(samples[i].TS)
		}
	}

	var successLatencies []float64
	for _, s := range samples {
		if s.Success && s.LatencyMs != nil {
			successLatencies = append(successLatencies, *s.LatencyMs)
		}
	}
	sorted := make([]float64, len(successLatencies))
	copy(sorted, successLatencies)
	sort.Float64s(sorted)
	threshold := 15.0
	if len(sorted) > 0 {
		med := median(sorted)
		if med+8 > threshold {
			threshold = med + 8
		}
	}

	var jitter []model.JitterEvent
	var prevLat float64
	havePrev := false
	for _, s := range samples {
		if !s.Success || s.LatencyMs == nil {
			continue
		}
		if havePrev {
			delta := *s.LatencyMs - prevLat
			if absf(delta) >= 8 {
				jitter = append(jitter, model.JitterEvent{
					TS: s.TS, Seq: s.Seq, LatencyMs: *s.LatencyMs,
					PrevLatencyMs: prevLat, DeltaMs: delta,
					Phase: s.Phase, InSession: s.InSession,
				})
			}
		}
		prevLat = *s.LatencyMs
		havePrev = true
	}

	bursts := deriveBursts(samples, threshold)

	return ParseResult{
		Samples:           samples,
		SkippedNoTsCount:  skipped,
		JitterEvents:      jitter,
		HighLatencyBursts: bursts,
		ThresholdMs:       threshold,
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func deriveBursts(samples []model.PingSample, threshold float64) []model.HighLatencyBurst {
	var bursts []model.HighLatencyBurst
	var cur []model.PingSample
	flush := func() {
		if len(cur) == 0 {
			return
		}
		var sum, maxv float64
		for _, s := range cur {
			sum += *s.LatencyMs
			if *s.LatencyMs > maxv {
				maxv = *s.LatencyMs
			}
		}
		bursts = append(bursts, model.HighLatencyBurst{
			StartTS: cur[0].TS, EndTS: cur[len(cur)-1].TS,
			Count: len(cur), StartSeq: cur[0].Seq, EndSeq: cur[len(cur)-1].Seq,
			MaxLatencyMs: maxv, AvgLatencyMs: sum / float64(len(cur)),
		})
		cur = nil
	}
	var lastTS time.Time
	haveLast := false
	for _, s := range samples {
		if !s.Success || s.LatencyMs == nil || *s.LatencyMs < threshold {
			flush()
			haveLast = false
			continue
		}
		if haveLast && s.TS.Sub(lastTS) > 1200*time.Millisecond {
			flush()
		}
		cur = append(cur, s)
		lastTS = s.TS
		haveLast = true
	}
	flush()
	return bursts
}
