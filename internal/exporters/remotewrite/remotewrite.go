// Package remotewrite pushes the report phase's per-minute timeline and
// top cause scores to a Prometheus Remote Write endpoint, the write-side
// counterpart of the teacher's promrw receiver (which decodes the same
// snappy-compressed prompb.WriteRequest wire format in reverse).
package remotewrite

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/gogo/protobuf/proto"
	"github.com/prometheus/prometheus/prompb"

	"github.com/streamlens/jitterlens/internal/correlate"
	"github.com/streamlens/jitterlens/internal/model"
)

// Sink pushes a WriteRequest to a configured URL.
type Sink struct {
	url    string
	client *http.Client
}

// New builds a Sink. An empty url means the sink is disabled; callers
// should check Enabled before calling Push.
func New(url string) *Sink {
	return &Sink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Enabled reports whether a URL was configured.
func (s *Sink) Enabled() bool { return s.url != "" }

// BuildWriteRequest converts the per-minute timeline counts and top-3
// cause scores into Prometheus time series, one per (event type | cause).
func BuildWriteRequest(generatedAt time.Time, timeline []correlate.TimelineMinute, causes []model.CauseScore) *prompb.WriteRequest {
	ts := generatedAt.UnixMilli()
	req := &prompb.WriteRequest{}

	for _, et := range correlate.PublicEventTypes {
		var samples []prompb.Sample
		for _, m := range timeline {
			minTS, err := time.ParseInLocation("2006-01-02 15:04", m.Minute, time.UTC)
			if err != nil {
				continue
			}
			samples = append(samples, prompb.Sample{Value: float64(m.Counts[et]), Timestamp: minTS.UnixMilli()})
		}
		if len(samples) == 0 {
			continue
		}
		req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
			Labels:  []prompb.Label{{Name: "__name__", Value: "jitterlens_event_count"}, {Name: "event_type", Value: string(et)}},
			Samples: samples,
		})
	}

	top := causes
	if len(top) > 3 {
		top = top[:3]
	}
	for _, c := range top {
		req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
			Labels:  []prompb.Label{{Name: "__name__", Value: "jitterlens_cause_score"}, {Name: "cause", Value: string(c.Cause)}},
			Samples: []prompb.Sample{{Value: c.Score, Timestamp: ts}},
		})
	}
	return req
}

// Push snappy-encodes and POSTs req to the configured URL.
func (s *Sink) Push(ctx context.Context, req *prompb.WriteRequest) error {
	if !s.Enabled() {
		return nil
	}
	raw, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("remotewrite: marshal: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("remotewrite: build request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("remotewrite: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("remotewrite: HTTP %d", resp.StatusCode)
	}
	return nil
}
