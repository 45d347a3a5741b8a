// Package plan builds the immutable workload plan (C4): for each request,
// independently sampled size, destination server, DSCP class, sending
// rate, and inter-arrival gap, targeting a configured mean offered load.
package plan

import (
	"math/rand/v2"

	"github.com/Lingtaonju/trafficgen/internal/cdf"
	"github.com/Lingtaonju/trafficgen/internal/errs"
	"github.com/Lingtaonju/trafficgen/internal/sampler"
)

// GoodputRatio discounts the computed arrival interval for non-payload
// bytes on the wire (header framing, ACKs). It is a fixed constant, not a
// measured value.
const GoodputRatio = 0.97

// Entry is one immutable, pre-materialized request.
type Entry struct {
	Size        uint32
	ServerIndex int
	DSCP        uint32
	RateMbps    uint32
	GapUs       int64
}

// Plan is the complete pre-materialized request sequence plus the
// diagnostics computed alongside it.
type Plan struct {
	Entries      []Entry
	PeriodUs     float64
	ServerCounts []int
}

// Params configures plan construction. Count and DurationSec are mutually
// exclusive from the caller's point of view; if Count is zero it is
// derived from DurationSec.
type Params struct {
	SizeDist    *cdf.Table
	DSCP        *sampler.Weighted
	Rate        *sampler.Weighted
	NumServers  int
	LoadMbps    float64
	Count       uint64
	DurationSec float64
}

// Build materializes the plan deterministically from src: the same seed,
// Params, and SizeDist/DSCP/Rate samplers always yield byte-identical
// plans (the "Plan determinism" testable property).
func Build(p Params, src *rand.Rand) (*Plan, error) {
	if p.NumServers <= 0 {
		return nil, errs.NewConfigError("at least one server is required", nil)
	}
	if p.LoadMbps <= 0 {
		return nil, errs.NewConfigError("load (Mbps) must be positive", nil)
	}

	avgSizeBytes := p.SizeDist.Average()
	periodUs := avgSizeBytes * 8 / p.LoadMbps / GoodputRatio
	if periodUs <= 0 {
		return nil, &errs.PacingAnomaly{Msg: "computed period_us is not positive"}
	}

	count := p.Count
	if count == 0 {
		if p.DurationSec <= 0 {
			return nil, errs.NewConfigError("either a request count or a positive duration is required", nil)
		}
		derived := uint64(p.DurationSec * 1e6 / periodUs)
		if derived < 1 {
			derived = 1
		}
		count = derived
	}

	poisson := sampler.NewPoisson(1.0 / periodUs)

	entries := make([]Entry, count)
	serverCounts := make([]int, p.NumServers)

	for i := range entries {
		serverIndex := src.IntN(p.NumServers)
		serverCounts[serverIndex]++

		entries[i] = Entry{
			Size:        p.SizeDist.Sample(src),
			ServerIndex: serverIndex,
			DSCP:        p.DSCP.Sample(src),
			RateMbps:    p.Rate.Sample(src),
			GapUs:       poisson.NextGapUs(src),
		}
	}

	return &Plan{Entries: entries, PeriodUs: periodUs, ServerCounts: serverCounts}, nil
}

// AverageSize returns the mean entry size in bytes, a diagnostic for the
// startup summary.
func (pl *Plan) AverageSize() float64 {
	if len(pl.Entries) == 0 {
		return 0
	}
	var total uint64
	for _, e := range pl.Entries {
		total += uint64(e.Size)
	}
	return float64(total) / float64(len(pl.Entries))
}

// AverageGapUs returns the mean inter-arrival gap, a diagnostic for the
// startup summary.
func (pl *Plan) AverageGapUs() float64 {
	if len(pl.Entries) == 0 {
		return 0
	}
	var total int64
	for _, e := range pl.Entries {
		total += e.GapUs
	}
	return float64(total) / float64(len(pl.Entries))
}
