package scanpoint

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMapping(t *testing.T) {
	from := []float64{0.5, 1.5, 2.5, 3.5, 4.5}
	to := []float64{0, 0.5, 1, 2, 4, 4.5, 5, 7}
	m, err := NewMapping(from, to)
	require.NoError(t, err)
	got := make([]float64, m.Len())
	for k := range got {
		got[k] = m.At(k)
	}
	want := []float64{0, 0, 0.5, 1.5, 3.5, 4, 4, 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestNewMappingEmpty(t *testing.T) {
	_, err := NewMapping(nil, []float64{1})
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestInterpolateClamps(t *testing.T) {
	v := []float64{10, 50, 100}
	// series starts at index 2
	assert.Equal(t, 10.0, Interpolate(v, 2, 0))
	assert.Equal(t, 10.0, Interpolate(v, 2, 2))
	assert.Equal(t, 30.0, Interpolate(v, 2, 2.5))
	assert.Equal(t, 100.0, Interpolate(v, 2, 4))
	assert.Equal(t, 100.0, Interpolate(v, 2, 9))
}

func TestCurve(t *testing.T) {
	c, err := NewCurve([]float64{0, 1, 1, 3}, []float64{2, 4, 9, 8})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, c.At(0.5), 1e-12)
	assert.InDelta(t, 6.0, c.At(2), 1e-12)
	assert.InDelta(t, 2.0, c.At(-5), 1e-12)
	assert.InDelta(t, 8.0, c.At(10), 1e-12)

	single, err := NewCurve([]float64{1}, []float64{7})
	require.NoError(t, err)
	assert.Equal(t, 7.0, single.At(100))
}
