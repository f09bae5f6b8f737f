// Package weaviate embeds cause-ranking evidence and effective-window
// summaries into small hashed vectors and upserts them to a
// Weaviate-compatible HTTP endpoint, the way the teacher's vectorizer
// processor's hash-embedding fallback builds a CPU-only embedding and its
// exporters/weaviate package POSTs objects to /v1/objects.
package weaviate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

const hashDim = 64

// Exporter upserts diagnosis records to one Weaviate class.
type Exporter struct {
	endpoint string
	class    string
	client   *http.Client
}

// New builds an Exporter. An empty endpoint disables the sink.
func New(endpoint, class string) *Exporter {
	if class == "" {
		class = "JitterlensDiagnosis"
	}
	return &Exporter{endpoint: strings.TrimSuffix(endpoint, "/"), class: class, client: &http.Client{Timeout: 10 * time.Second}}
}

// Enabled reports whether an endpoint was configured.
func (e *Exporter) Enabled() bool { return e.endpoint != "" }

// Record is one evidence row or window summary to embed and upsert.
type Record struct {
	ID      string
	Summary string
	Tokens  []string
	TS      time.Time
	Extra   map[string]any
}

// RecordsFromCauses builds one Record per evidence row across the given
// cause scores, tokenized on cause/metric/detail for the hash embedding.
func RecordsFromCauses(captureID string, scores []model.CauseScore) []Record {
	var out []Record
	for _, cs := range scores {
		for i, ev := range cs.Evidence {
			out = append(out, Record{
				ID:      fmt.Sprintf("%s-%s-%d", captureID, cs.Cause, i),
				Summary: fmt.Sprintf("%s evidence: %s=%.2f (%s)", cs.Cause, ev.Metric, ev.Value, ev.Detail),
				Tokens:  []string{string(cs.Cause), ev.Metric, ev.Detail, string(cs.Level)},
				TS:      ev.TS,
				Extra: map[string]any{
					"cause": cs.Cause, "score": cs.Score, "metric": ev.Metric, "value": ev.Value,
				},
			})
		}
	}
	return out
}

// RecordsFromWindows builds one Record per effective stream window.
func RecordsFromWindows(captureID string, windows []model.EffectiveWindow) []Record {
	out := make([]Record, 0, len(windows))
	for _, w := range windows {
		out = append(out, Record{
			ID:      fmt.Sprintf("%s-window-%d", captureID, w.ID),
			Summary: fmt.Sprintf("stream window %d: %s to %s", w.ID, w.StartTS.Format(time.RFC3339), w.EndTS.Format(time.RFC3339)),
			Tokens:  []string{"stream_window"},
			TS:      w.StartTS,
			Extra:   map[string]any{"start": w.StartTS, "end": w.EndTS},
		})
	}
	return out
}

// embedHashing builds a signed hashed bag-of-tokens vector, the same
// hashing-trick idea as the teacher's text embedding fallback but over a
// small fixed token set instead of free text.
func embedHashing(tokens []string) []float32 {
	vec := make([]float32, hashDim)
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum64() % uint64(hashDim))

		hs := fnv.New64()
		_, _ = hs.Write([]byte("sign:" + tok))
		val := float32(1)
		if hs.Sum64()&1 == 1 {
			val = -1
		}
		vec[idx] += val
	}
	return vec
}

// Upsert embeds and POSTs one record to /v1/objects.
func (e *Exporter) Upsert(ctx context.Context, r Record) error {
	if !e.Enabled() {
		return nil
	}
	vec := embedHashing(r.Tokens)
	props := map[string]any{"summary": r.Summary, "tsIso": r.TS.Format(time.RFC3339)}
	for k, v := range r.Extra {
		props[k] = v
	}
	body := map[string]any{"class": e.class, "id": r.ID, "vector": vec, "properties": props}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("weaviate: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/objects", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("weaviate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("weaviate: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("weaviate: HTTP %d", resp.StatusCode)
	}
	return nil
}

// UpsertAll upserts every record, logging nothing itself — callers decide
// how to report per-record failures (report phase logs with [weaviate]).
func (e *Exporter) UpsertAll(ctx context.Context, records []Record) []error {
	var errs []error
	for _, r := range records {
		if err := e.Upsert(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
