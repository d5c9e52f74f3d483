package trace

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtendPreservesValues(t *testing.T) {
	m := NewMerged(1)
	m.Add(10, 100.0, 2.0)
	m.Add(12, 101.0, 4.0)

	before := map[int][2]float64{}
	for s := m.StartID; s <= m.EndID; s++ {
		before[s] = [2]float64{m.MzAt(s), m.IntensityAt(s)}
	}

	extends := [][2]int{{5, 8}, {11, 11}, {3, 20}, {0, 1}, {15, 25}}
	for _, e := range extends {
		m.Extend(e[0], e[1])
		for s, v := range before {
			if s < m.StartID || s > m.EndID {
				t.Fatalf("scan %d no longer covered after Extend(%d,%d)", s, e[0], e[1])
			}
			got := [2]float64{m.MzAt(s), m.IntensityAt(s)}
			if got != v {
				t.Errorf("Extend(%d,%d): scan %d changed from %v to %v", e[0], e[1], s, v, got)
			}
		}
		if len(m.Mz) != m.Len() || len(m.Ints) != m.Len() {
			t.Errorf("Extend(%d,%d): buffer length %d/%d, range length %d",
				e[0], e[1], len(m.Mz), len(m.Ints), m.Len())
		}
	}
	if m.StartID != 0 || m.EndID != 25 {
		t.Errorf("range [%d,%d], want [0,25]", m.StartID, m.EndID)
	}
	// New positions are zero
	if m.IntensityAt(7) != 0 || m.MzAt(24) != 0 {
		t.Errorf("new positions not zero filled")
	}
}

func TestExtendNeverShrinks(t *testing.T) {
	m := NewMerged(1)
	m.Extend(5, 10)
	m.Extend(7, 8)
	if m.StartID != 5 || m.EndID != 10 {
		t.Errorf("range [%d,%d], want [5,10]", m.StartID, m.EndID)
	}
	m.Extend(9, 3) // empty request
	if m.Len() != 6 {
		t.Errorf("Len %d, want 6", m.Len())
	}
}

func TestFinalizeWeightedAverage(t *testing.T) {
	type contribution struct {
		scan int
		mz   float64
		w    float64
	}
	contributions := []contribution{
		{3, 100.001, 10},
		{3, 100.003, 30},
		{4, 100.002, 5},
		{4, 100.004, 5},
		{4, 100.010, 0},
		{6, 99.999, 1},
	}
	m := NewMerged(7)
	m.Extend(2, 7)
	for _, c := range contributions {
		m.Add(c.scan, c.mz, c.w)
	}
	m.Finalize()

	want := map[int]float64{
		3: (100.001*10 + 100.003*30) / 40,
		4: (100.002*5 + 100.004*5) / 10,
		6: 99.999,
	}
	for s, mz := range want {
		if math.Abs(m.MzAt(s)-mz) > 1e-9 {
			t.Errorf("scan %d: mz %f, want %f", s, m.MzAt(s), mz)
		}
	}
	// Zero intensity positions are untouched
	for _, s := range []int{2, 5, 7} {
		if m.MzAt(s) != 0 || m.IntensityAt(s) != 0 {
			t.Errorf("scan %d modified: mz %f int %f", s, m.MzAt(s), m.IntensityAt(s))
		}
	}
	if m.IntensityAt(3) != 40 {
		t.Errorf("scan 3 intensity %f, want 40", m.IntensityAt(3))
	}
}

func TestCombine(t *testing.T) {
	a, _ := NewContiguous(1, 2, []float64{100, 100, 100}, []float64{1, 2, 3})
	b, _ := NewContiguous(2, 3, []float64{102, 102, 102}, []float64{2, 2, 2})
	c, err := Combine([]*Contiguous{a, b})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if c.StartID != 2 || c.EndID != 5 {
		t.Fatalf("range [%d,%d], want [2,5]", c.StartID, c.EndID)
	}
	wantInt := []float64{1, 4, 5, 2}
	if diff := cmp.Diff(wantInt, c.Intensity); diff != "" {
		t.Errorf("intensities mismatch (-want +got):\n%s", diff)
	}
	if math.Abs(c.MzAt(3)-101) > 1e-12 {
		t.Errorf("mz at 3 = %f, want 101", c.MzAt(3))
	}
	if math.Abs(c.MzAt(4)-(100*3+102*2)/5.0) > 1e-12 {
		t.Errorf("mz at 4 = %f", c.MzAt(4))
	}
}

func TestNewContiguousErrors(t *testing.T) {
	if _, err := NewContiguous(1, 0, []float64{1}, []float64{1, 2}); err == nil {
		t.Errorf("expected error for length mismatch")
	}
	if _, err := NewContiguous(1, 0, nil, nil); err == nil {
		t.Errorf("expected error for empty trace")
	}
}
