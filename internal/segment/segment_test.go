package segment

import (
	"math"
	"math/rand"
	"testing"

	"github.com/524D/mzmerge/internal/trace"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contiguous(t *testing.T, start int, ints ...float64) *trace.Contiguous {
	t.Helper()
	mz := make([]float64, len(ints))
	for i := range mz {
		mz[i] = 300
	}
	c, err := trace.NewContiguous(1, start, mz, ints)
	require.NoError(t, err)
	return c
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		start int
		ints  []float64
		noise Noise
		want  []trace.Segment
	}{
		{
			name:  "double peak",
			start: 10,
			ints:  []float64{0, 1, 5, 1, 0, 1, 4, 1, 0},
			noise: Constant(0.5),
			want:  []trace.Segment{{Apex: 12, Left: 10, Right: 14}, {Apex: 16, Left: 15, Right: 18}},
		},
		{
			name:  "shoulder absorbed",
			ints:  []float64{0, 5, 4, 4.5, 0},
			noise: Constant(1),
			want:  []trace.Segment{{Apex: 1, Left: 0, Right: 4}},
		},
		{
			name:  "below noise",
			ints:  []float64{1, 2, 1},
			noise: Constant(3),
			want:  nil,
		},
		{
			name:  "trimmed flanks",
			ints:  []float64{0, 0, 0, 1, 9, 1, 0, 0},
			noise: PerScan{2, 2, 2, 2, 2, 2, 2, 2},
			want:  []trace.Segment{{Apex: 4, Left: 3, Right: 5}},
		},
	}
	s := NewPersistence()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Detect(contiguous(t, tt.start, tt.ints...), tt.noise)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Detect mismatch (-want +got):\n%s", diff)
			}
			for i := 1; i < len(got); i++ {
				if got[i-1].Overlaps(got[i]) {
					t.Errorf("segments %v and %v overlap", got[i-1], got[i])
				}
			}
		})
	}
}

func TestPerScanClamps(t *testing.T) {
	p := PerScan{1, 2, 3}
	require.Equal(t, 1.0, p.Level(-4))
	require.Equal(t, 3.0, p.Level(99))
	require.Equal(t, 0.0, PerScan(nil).Level(0))
}

func gauss(x, mu, sigma, height float64) float64 {
	d := (x - mu) / sigma
	return height * math.Exp(-d*d/2)
}

func TestDetectNoisyGaussianPair(t *testing.T) {
	s := NewPersistence()
	for seed := int64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		ints := make([]float64, 100)
		for i := range ints {
			x := float64(i)
			ints[i] = gauss(x, 30, 5, 100) + gauss(x, 70, 5, 80) + rng.Float64()
		}
		got := s.Detect(contiguous(t, 0, ints...), Constant(2))
		require.Len(t, got, 2, "seed %d", seed)
		assert.InDelta(t, 30, got[0].Apex, 1, "seed %d", seed)
		assert.InDelta(t, 70, got[1].Apex, 1, "seed %d", seed)
		assert.False(t, got[0].Overlaps(got[1]), "seed %d", seed)
		for _, g := range got {
			assert.True(t, g.Left <= g.Apex && g.Apex <= g.Right, "seed %d: %v", seed, g)
		}
	}
}
