package feature

import (
	"testing"

	"github.com/524D/mzmerge/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerSegment(t *testing.T) {
	m := trace.NewMerged(3)
	for i, v := range []float64{1, 4, 1, 0, 2, 6, 2} {
		m.Add(i, 150, v)
	}
	m.Finalize()

	tr, err := trace.NewContiguous(11, 5, []float64{150, 150, 150}, []float64{2, 8, 2})
	require.NoError(t, err)
	rt := func(scan int) float64 { return float64(scan) * 0.5 }

	in := Input{
		Merged:   m,
		RectID:   3,
		Segments: []trace.Segment{{Apex: 1, Left: 0, Right: 2}, {Apex: 5, Left: 4, Right: 6}},
		Rt:       rt,
		Samples: []SampleInput{
			{SampleID: 1, Trace: tr, Projected: []*trace.Segment{nil, {Apex: 6, Left: 5, Right: 7}}, Rt: rt},
			{SampleID: 2, Trace: tr, Projected: []*trace.Segment{nil, nil}, Rt: rt},
		},
	}
	got := PerSegment{}.Extract(in)
	require.Len(t, got, 1)
	f := got[0]
	assert.Equal(t, 5, f.Apex)
	assert.Equal(t, 2.5, f.ApexRt)
	assert.Equal(t, 150.0, f.ApexMz)
	assert.Equal(t, 6.0, f.ApexIntensity)
	require.Len(t, f.Samples, 2)
	assert.Equal(t, SampleFeature{
		SampleID: 1, Present: true, Apex: 6, Left: 5, Right: 7,
		ApexRt: 3, ApexMz: 150, ApexIntensity: 8, Area: 12,
	}, f.Samples[0])
	assert.Equal(t, SampleFeature{SampleID: 2}, f.Samples[1])
}
