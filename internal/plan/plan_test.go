package plan

import (
	"math/rand/v2"
	"testing"

	"github.com/Lingtaonju/trafficgen/internal/cdf"
	"github.com/Lingtaonju/trafficgen/internal/errs"
	"github.com/Lingtaonju/trafficgen/internal/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParams(t *testing.T, count uint64) Params {
	t.Helper()
	sizeDist, err := cdf.NewFromPairs([]uint32{1000}, []float64{1.0})
	require.NoError(t, err)
	dscp, err := sampler.NewWeighted([]uint32{0}, []uint32{100})
	require.NoError(t, err)
	rate, err := sampler.NewWeighted([]uint32{0}, []uint32{100})
	require.NoError(t, err)

	return Params{
		SizeDist:   sizeDist,
		DSCP:       dscp,
		Rate:       rate,
		NumServers: 1,
		LoadMbps:   10,
		Count:      count,
	}
}

func TestBuildCount(t *testing.T) {
	p := newParams(t, 100)
	pl, err := Build(p, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	assert.Len(t, pl.Entries, 100)
	for _, e := range pl.Entries {
		assert.Equal(t, uint32(1000), e.Size)
		assert.Equal(t, 0, e.ServerIndex)
	}
}

func TestBuildRejectsNonPositiveLoad(t *testing.T) {
	p := newParams(t, 10)
	p.LoadMbps = 0
	_, err := Build(p, rand.New(rand.NewPCG(1, 1)))
	require.Error(t, err)
	var cfgErr *errs.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestBuildRejectsNoServers(t *testing.T) {
	p := newParams(t, 10)
	p.NumServers = 0
	_, err := Build(p, rand.New(rand.NewPCG(1, 1)))
	assert.Error(t, err)
}

func TestBuildRejectsNonPositiveComputedPeriod(t *testing.T) {
	p := newParams(t, 10)
	zeroSizeDist, err := cdf.NewFromPairs([]uint32{0}, []float64{1.0})
	require.NoError(t, err)
	p.SizeDist = zeroSizeDist

	_, err = Build(p, rand.New(rand.NewPCG(1, 1)))
	require.Error(t, err)
	var anomaly *errs.PacingAnomaly
	assert.ErrorAs(t, err, &anomaly)
}

func TestBuildRejectsNoCountOrDuration(t *testing.T) {
	p := newParams(t, 0)
	_, err := Build(p, rand.New(rand.NewPCG(1, 1)))
	assert.Error(t, err)
}

func TestBuildDerivesCountFromDuration(t *testing.T) {
	p := newParams(t, 0)
	p.DurationSec = 5
	// period_us = 1000*8/10/0.97 ~= 824.7us -> count = floor(5e6/824.7) = 6062
	pl, err := Build(p, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	expected := uint64(5 * 1e6 / pl.PeriodUs)
	assert.InDelta(t, expected, len(pl.Entries), 1)
}

func TestBuildDeterministic(t *testing.T) {
	p := newParams(t, 500)
	p1, err := Build(p, rand.New(rand.NewPCG(99, 99)))
	require.NoError(t, err)
	p2, err := Build(p, rand.New(rand.NewPCG(99, 99)))
	require.NoError(t, err)
	assert.Equal(t, p1.Entries, p2.Entries)
}

func TestBuildSpreadsAcrossServers(t *testing.T) {
	p := newParams(t, 20000)
	p.NumServers = 2
	pl, err := Build(p, rand.New(rand.NewPCG(5, 5)))
	require.NoError(t, err)
	assert.Len(t, pl.ServerCounts, 2)
	total := pl.ServerCounts[0] + pl.ServerCounts[1]
	assert.Equal(t, 20000, total)
	frac := float64(pl.ServerCounts[0]) / float64(total)
	assert.InDelta(t, 0.5, frac, 0.05)
}

func TestBuildWeightedDSCPLaw(t *testing.T) {
	sizeDist, err := cdf.NewFromPairs([]uint32{1000}, []float64{1.0})
	require.NoError(t, err)
	dscp, err := sampler.NewWeighted([]uint32{10, 20}, []uint32{1, 3})
	require.NoError(t, err)
	rate, err := sampler.NewWeighted([]uint32{0}, []uint32{100})
	require.NoError(t, err)

	p := Params{
		SizeDist: sizeDist, DSCP: dscp, Rate: rate,
		NumServers: 2, LoadMbps: 100, Count: 10000,
	}
	pl, err := Build(p, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	class20 := 0
	for _, e := range pl.Entries {
		if e.DSCP == 20 {
			class20++
		}
	}
	frac := float64(class20) / float64(len(pl.Entries))
	assert.InDelta(t, 0.75, frac, 0.02)
}

func TestAverageSizeAndGap(t *testing.T) {
	p := newParams(t, 1000)
	pl, err := Build(p, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	assert.InDelta(t, 1000, pl.AverageSize(), 0.001)
	assert.Greater(t, pl.AverageGapUs(), 0.0)
}
