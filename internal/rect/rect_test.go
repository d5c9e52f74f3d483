package rect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rectA = Rect{ID: 1, MinMz: 0, MaxMz: 1, MinRt: 0, MaxRt: 1}
	rectB = Rect{ID: 2, MinMz: 0.5, MaxMz: 2, MinRt: 0.5, MaxRt: 0.6}
	// rectC overlaps the union of A and B but neither of them alone
	rectC = Rect{ID: 3, MinMz: 1.5, MaxMz: 3, MinRt: 0.9, MaxRt: 2}
)

func TestUpgradeMergesChain(t *testing.T) {
	require.False(t, rectC.Overlaps(rectA))
	require.False(t, rectC.Overlaps(rectB))

	want := Rect{ID: 1, MinMz: 0, MaxMz: 3, MinRt: 0, MaxRt: 2}
	for _, order := range [][]Rect{{rectA, rectB, rectC}, {rectB, rectA, rectC}} {
		x := NewIndex()
		for _, r := range order {
			x.Upgrade(r)
		}
		all := x.All()
		require.Len(t, all, 1)
		assert.Equal(t, want, all[0])
	}
}

// The greedy construction is insertion order dependent: when the
// rectangle that only overlaps the union is inserted before the pair is
// joined, it survives as a separate rectangle.
func TestUpgradeOrderSensitivity(t *testing.T) {
	x := NewIndex()
	x.Upgrade(rectA)
	x.Upgrade(rectC)
	x.Upgrade(rectB)

	all := x.ByID()
	require.Len(t, all, 2)
	assert.Equal(t, Rect{ID: 1, MinMz: 0, MaxMz: 2, MinRt: 0, MaxRt: 1}, all[0])
	assert.Equal(t, rectC, all[1])
}

func TestUpgradeKeepsSmallestID(t *testing.T) {
	x := NewIndex()
	x.Upgrade(Rect{ID: 5, MinMz: 10, MaxMz: 11, MinRt: 1, MaxRt: 2})
	u := x.Upgrade(Rect{ID: 9, MinMz: 10.5, MaxMz: 12, MinRt: 1.5, MaxRt: 3})
	assert.Equal(t, int64(5), u.ID)
	_, ok := x.Get(9)
	assert.False(t, ok)
	r, ok := x.Get(5)
	require.True(t, ok)
	assert.Equal(t, 12.0, r.MaxMz)
}

func TestOverlappingWindow(t *testing.T) {
	x := NewIndex()
	// A wide rectangle far to the left must still be found
	x.Add(Rect{ID: 1, MinMz: 100, MaxMz: 200, MinRt: 0, MaxRt: 10})
	x.Add(Rect{ID: 2, MinMz: 150, MaxMz: 151, MinRt: 20, MaxRt: 30})
	x.Add(Rect{ID: 3, MinMz: 300, MaxMz: 301, MinRt: 0, MaxRt: 10})

	got := x.Overlapping(Point(0, 190, 5))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)

	assert.Empty(t, x.Containing(250, 5))
	assert.Len(t, x.Containing(150.5, 25), 1)

	assert.True(t, x.Remove(2))
	assert.False(t, x.Remove(2))
	assert.Equal(t, 2, x.Len())
}

func TestDegenerateRectanglesOverlap(t *testing.T) {
	p := Point(1, 100.0, 50.0)
	q := Point(2, 100.0, 50.0)
	assert.True(t, p.Valid())
	assert.True(t, p.Overlaps(q))
	assert.True(t, p.Contains(100.0, 50.0))
}
