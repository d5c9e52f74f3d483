package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/524D/mzmerge/internal/jobs"
	"github.com/524D/mzmerge/internal/sample"
	"github.com/524D/mzmerge/internal/stats"
	"github.com/524D/mzmerge/internal/store"
	"github.com/524D/mzmerge/internal/trace"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSample(t *testing.T, id int32, rt0 float64, noise float64, traces ...*trace.Contiguous) *sample.Sample {
	t.Helper()
	scans, err := sample.UniformScanMapping(rt0, 1, 5)
	require.NoError(t, err)
	s := sample.New(id, string(rune('A'+id-1)), scans, sample.NewMemoryStorage(traces))
	s.Stats = stats.Constant(5, noise)
	return s
}

func peakTrace(t *testing.T, uid int64) *trace.Contiguous {
	t.Helper()
	tr, err := trace.NewContiguous(uid, 0,
		[]float64{200, 200, 200, 200, 200},
		[]float64{10, 50, 100, 50, 10})
	require.NoError(t, err)
	return tr
}

func setup(t *testing.T) (*store.Store, *Engine, []*sample.Sample, *sample.Sample) {
	t.Helper()
	st, err := store.OpenInMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	a := testSample(t, 1, 0, 2, peakTrace(t, 1))
	b := testSample(t, 2, 0.5, 4, peakTrace(t, 1))
	samples := []*sample.Sample{a, b}
	grid, err := BuildGrid(samples)
	require.NoError(t, err)
	merged := sample.New(-1, "merged", grid, nil)
	return st, NewEngine(st, jobs.New(2), nil, zerolog.Nop()), samples, merged
}

func TestBuildGrid(t *testing.T) {
	_, _, samples, merged := setup(t)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, merged.Scans.Times())
	_, err := BuildGrid(nil)
	assert.ErrorIs(t, err, ErrNoSamples)
	assert.Len(t, samples, 2)
}

func TestMergeTwoSamples(t *testing.T) {
	st, e, samples, merged := setup(t)
	mois := []MoI{
		{ID: 1, SampleID: 1, Mz: 200, Rt: 2, Observations: []Observation{
			{SampleID: 1, Mz: 200, Rt: 2, TraceID: 1},
			{SampleID: 2, Mz: 200, Rt: 2.5, TraceID: 1},
		}},
		// trace 9 doesn't exist, rectangle gets no contributor
		{ID: 2, SampleID: 1, Mz: 500, Rt: 2, Observations: []Observation{
			{SampleID: 1, Mz: 500, Rt: 2, TraceID: 9},
		}},
	}
	res, err := e.Merge(context.Background(), merged, samples, mois)
	require.NoError(t, err)
	require.Len(t, res.Rects, 1)
	require.Len(t, res.Merged, 1)

	m := res.Merged[0]
	assert.Equal(t, int64(1), m.UID)
	assert.Equal(t, 0, m.StartID)
	if diff := cmp.Diff([]float64{10, 80, 175, 125, 40}, m.Ints); diff != "" {
		t.Errorf("merged intensities (-want +got):\n%s", diff)
	}
	for _, mz := range m.Mz {
		assert.InDelta(t, 200, mz, 1e-9)
	}
	assert.Equal(t, 2, m.ApexScan())
	assert.ElementsMatch(t, []int32{1, 2}, m.SampleIDs)

	stored, ok, err := st.Merged(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.Ints, stored.Ints)
	_, ok, err = st.Merged(2)
	require.NoError(t, err)
	assert.False(t, ok)
	rects, err := st.Rects()
	require.NoError(t, err)
	assert.Len(t, rects, 1)

	for _, id := range m.TraceIDs {
		_, ok, err := st.Trace(id)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	for _, v := range merged.Stats.NoiseLevelPerScan {
		assert.InDelta(t, 3.0, v, 1e-12)
	}
	ms, ok, err := st.Stats(store.MergedSampleKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, ms.NoiseLevelPerScan, 6)
	assert.False(t, samples[0].Active())
}

func TestMergeReplacesEarlierRun(t *testing.T) {
	dir := t.TempDir()
	_, _, samples, merged := setup(t)
	observed := func(id int64) []MoI {
		return []MoI{{ID: id, SampleID: 1, Mz: 200, Rt: 2, Observations: []Observation{
			{SampleID: 1, Mz: 200, Rt: 2, TraceID: 1},
		}}}
	}
	for _, id := range []int64{7, 1} {
		st, err := store.Open(store.Config{Path: dir, Log: zerolog.Nop()})
		require.NoError(t, err)
		e := NewEngine(st, jobs.New(1), nil, zerolog.Nop())
		_, err = e.Merge(context.Background(), merged, samples, observed(id))
		require.NoError(t, err)
		require.NoError(t, st.Close())
	}

	st, err := store.Open(store.Config{Path: dir, Log: zerolog.Nop()})
	require.NoError(t, err)
	defer st.Close()
	rects, err := st.Rects()
	require.NoError(t, err)
	require.Len(t, rects, 1)
	assert.Equal(t, int64(1), rects[0].ID)
	traces, err := st.MergedTraces()
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, int64(1), traces[0].UID)
}

func TestRtWindowFiltersMoIs(t *testing.T) {
	_, e, samples, _ := setup(t)
	e.RtWindow = &Window{Min: 0, Max: 1}
	idx := e.BuildRects(samples, []MoI{{ID: 1, Mz: 200, Rt: 2}, {ID: 2, Mz: 300, Rt: 0.5}})
	require.Equal(t, 1, idx.Len())
	_, ok := idx.Get(2)
	assert.True(t, ok)
}

type losingStore struct {
	*store.Store
}

func (losingStore) Merged(int64) (*trace.Merged, bool, error) { return nil, false, nil }

func TestMissingMergedTraceIsInvariant(t *testing.T) {
	st, _, samples, merged := setup(t)
	e := NewEngine(losingStore{st}, jobs.New(1), nil, zerolog.Nop())
	mois := []MoI{{ID: 1, Mz: 200, Rt: 2, Observations: []Observation{{SampleID: 1, Mz: 200, Rt: 2, TraceID: 1}}}}
	_, err := e.Merge(context.Background(), merged, samples, mois)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
}
