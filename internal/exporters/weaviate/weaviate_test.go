package weaviate

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func TestEmbedHashingIsDeterministicAndBounded(t *testing.T) {
	v1 := embedHashing([]string{"network_path_jitter", "loss_pct", "high"})
	v2 := embedHashing([]string{"network_path_jitter", "loss_pct", "high"})
	if len(v1) != hashDim || len(v2) != hashDim {
		t.Fatalf("expected vectors of length %d", hashDim)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("expected deterministic embedding, differed at index %d", i)
		}
	}
}

func TestEmbedHashingEmptyTokensIsZeroVector(t *testing.T) {
	v := embedHashing(nil)
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector for no tokens")
		}
	}
}

func TestRecordsFromCausesOneRecordPerEvidenceRow(t *testing.T) {
	scores := []model.CauseScore{
		{Cause: model.CauseRTTVarianceBurst, Evidence: []model.EvidenceRow{
			{TS: time.Now(), Metric: "rtt_var_ms", Value: 10, Detail: "x"},
			{TS: time.Now(), Metric: "rtt_var_ms", Value: 12, Detail: "y"},
		}},
	}
	recs := RecordsFromCauses("cap1", scores)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
}

func TestExporterDisabledWithoutEndpoint(t *testing.T) {
	e := New("", "")
	if e.Enabled() {
		t.Fatalf("expected disabled exporter with empty endpoint")
	}
	if err := e.Upsert(nil, Record{}); err != nil {
		t.Fatalf("expected no-op upsert to succeed, got %v", err)
	}
}
