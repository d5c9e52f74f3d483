// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package rect implements the mutable index of m/z x retention time
// rectangles. Each rectangle is the region of one candidate compound
// across all samples.
package rect

import (
	"fmt"
	"sort"
	"sync"
)

// Rect is an axis aligned box in m/z and retention time
type Rect struct {
	ID    int64
	MinMz float64
	MaxMz float64
	MinRt float64
	MaxRt float64
}

// Point returns a degenerate rectangle at (mz, rt)
func Point(id int64, mz, rt float64) Rect {
	return Rect{ID: id, MinMz: mz, MaxMz: mz, MinRt: rt, MaxRt: rt}
}

// Valid reports whether min <= max on both axes
func (r Rect) Valid() bool {
	return r.MinMz <= r.MaxMz && r.MinRt <= r.MaxRt
}

// Overlaps reports whether r and o share at least one point.
// Touching edges count as overlap.
func (r Rect) Overlaps(o Rect) bool {
	return r.MinMz <= o.MaxMz && o.MinMz <= r.MaxMz &&
		r.MinRt <= o.MaxRt && o.MinRt <= r.MaxRt
}

// Contains reports whether (mz, rt) lies inside r
func (r Rect) Contains(mz, rt float64) bool {
	return mz >= r.MinMz && mz <= r.MaxMz && rt >= r.MinRt && rt <= r.MaxRt
}

// Enclose widens r so that it contains (mz, rt)
func (r *Rect) Enclose(mz, rt float64) {
	if mz < r.MinMz {
		r.MinMz = mz
	}
	if mz > r.MaxMz {
		r.MaxMz = mz
	}
	if rt < r.MinRt {
		r.MinRt = rt
	}
	if rt > r.MaxRt {
		r.MaxRt = rt
	}
}

// Union returns the bounding box of r and o, keeping the id of r
func (r Rect) Union(o Rect) Rect {
	u := r
	u.Enclose(o.MinMz, o.MinRt)
	u.Enclose(o.MaxMz, o.MaxRt)
	return u
}

func (r Rect) String() string {
	return fmt.Sprintf("rect %d mz[%f,%f] rt[%f,%f]", r.ID, r.MinMz, r.MaxMz, r.MinRt, r.MaxRt)
}

// Index holds rectangles sorted by MinMz. Overlap queries search the
// window [MinMz - widest, MaxMz] and check the remaining axes.
// It is safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	rects  []Rect // sorted by MinMz, then ID
	widest float64
}

// NewIndex returns an empty index
func NewIndex() *Index {
	return &Index{}
}

// Len returns the number of rectangles
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.rects)
}

// Add inserts r without checking for overlap
func (x *Index) Add(r Rect) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.add(r)
}

func (x *Index) add(r Rect) {
	i := sort.Search(len(x.rects), func(i int) bool {
		if x.rects[i].MinMz == r.MinMz {
			return x.rects[i].ID >= r.ID
		}
		return x.rects[i].MinMz > r.MinMz
	})
	x.rects = append(x.rects, Rect{})
	copy(x.rects[i+1:], x.rects[i:])
	x.rects[i] = r
	if w := r.MaxMz - r.MinMz; w > x.widest {
		x.widest = w
	}
}

// Remove deletes the rectangle with the given id.
// It returns false if no such rectangle exists.
func (x *Index) Remove(id int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.remove(id)
}

func (x *Index) remove(id int64) bool {
	for i := range x.rects {
		if x.rects[i].ID == id {
			x.rects = append(x.rects[:i], x.rects[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the rectangle with the given id
func (x *Index) Get(id int64) (Rect, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, r := range x.rects {
		if r.ID == id {
			return r, true
		}
	}
	return Rect{}, false
}

// Overlapping returns all rectangles that overlap r
func (x *Index) Overlapping(r Rect) []Rect {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.overlapping(r)
}

func (x *Index) overlapping(r Rect) []Rect {
	// Rectangles starting after r.MaxMz can't overlap, neither can
	// rectangles starting before r.MinMz minus the widest rectangle
	i1 := sort.Search(len(x.rects), func(i int) bool { return x.rects[i].MinMz >= r.MinMz-x.widest })
	i2 := sort.Search(len(x.rects), func(i int) bool { return x.rects[i].MinMz > r.MaxMz })
	var out []Rect
	for i := i1; i < i2; i++ {
		if x.rects[i].Overlaps(r) {
			out = append(out, x.rects[i])
		}
	}
	return out
}

// Containing returns all rectangles that contain the point (mz, rt)
func (x *Index) Containing(mz, rt float64) []Rect {
	return x.Overlapping(Point(0, mz, rt))
}

// Upgrade removes every rectangle overlapping r, merges them into r and
// inserts the union. The union keeps the smallest id among r and the
// removed rectangles, so ids of earlier rectangles are stable.
//
// This is a single greedy pass: the union may grow into a rectangle that
// did not overlap r itself, which then stays. Results therefore depend on
// insertion order when three or more regions chain together.
func (x *Index) Upgrade(r Rect) Rect {
	x.mu.Lock()
	defer x.mu.Unlock()
	u := r
	for _, o := range x.overlapping(r) {
		x.remove(o.ID)
		id := u.ID
		if o.ID < id {
			id = o.ID
		}
		u = u.Union(o)
		u.ID = id
	}
	x.add(u)
	return u
}

// All returns a copy of all rectangles ordered by MinMz
func (x *Index) All() []Rect {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Rect, len(x.rects))
	copy(out, x.rects)
	return out
}

// ByID returns a copy of all rectangles ordered by id
func (x *Index) ByID() []Rect {
	out := x.All()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
