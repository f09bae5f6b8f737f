package stats

import (
	tdigest "github.com/caio/go-tdigest/v4"
)

// GapDigest accumulates one event type's inter-event gaps, and reports
// approximate quantiles
// without retaining every gap twice the way a plain sort would. Used by
// the correlation engine's interval statistics, where a multi-hour capture
// can produce tens of thousands of gaps across many event types.
type GapDigest struct {
	td    *tdigest.TDigest
	count int
}

// NewGapDigest builds a digest with the library's default compression.
func NewGapDigest() *GapDigest {
	td, err := tdigest.New()
	if err != nil {
		// Compression is a compile-time constant in normal use; New only
		// fails on invalid options, which we don't pass.
		panic(err)
	}
	return &GapDigest{td: td}
}

// Add folds one gap (seconds) into the digest.
func (g *GapDigest) Add(gapSec float64) {
	_ = g.td.Add(gapSec)
	g.count++
}

// Count returns how many gaps have been folded in.
func (g *GapDigest) Count() int {
	return g.count
}

// Quantile returns the digest's estimate of quantile q in [0,1]; 0 if
// empty.
func (g *GapDigest) Quantile(q float64) float64 {
	if g.count == 0 {
		return 0
	}
	return g.td.Quantile(q)
}
