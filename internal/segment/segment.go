// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package segment detects chromatographic peak segments on traces.
package segment

import (
	"sort"

	"github.com/524D/mzmerge/internal/trace"
)

// Noise gives the noise level at a scan index
type Noise interface {
	Level(scan int) float64
}

// Constant is the same noise level at every scan
type Constant float64

// Level returns the constant
func (c Constant) Level(int) float64 { return float64(c) }

// PerScan is a noise curve indexed by scan, clamped at both ends
type PerScan []float64

// Level returns the noise at scan
func (p PerScan) Level(scan int) float64 {
	if len(p) == 0 {
		return 0
	}
	if scan < 0 {
		scan = 0
	} else if scan >= len(p) {
		scan = len(p) - 1
	}
	return p[scan]
}

// Strategy finds peak segments on a trace. The segments are ordered by
// position and don't overlap.
type Strategy interface {
	Detect(t trace.Trace, noise Noise) []trace.Segment
}

// Persistence detects maxima that stand out from the valleys next to
// them by at least PersistenceFactor times the noise, and whose
// intensity is above NoiseFactor times the noise
type Persistence struct {
	NoiseFactor       float64
	PersistenceFactor float64
}

// NewPersistence returns a persistence strategy with default factors
func NewPersistence() *Persistence {
	return &Persistence{NoiseFactor: 1, PersistenceFactor: 1}
}

// component is a union-find node. Only the root's fields are valid.
type component struct {
	parent int
	peak   int
	lo, hi int
	sig    bool
}

type forest struct {
	c     []component
	alive []bool
}

func newForest(n int) *forest {
	f := &forest{c: make([]component, n), alive: make([]bool, n)}
	for i := range f.c {
		f.c[i] = component{parent: i, peak: i, lo: i, hi: i}
	}
	return f
}

func (f *forest) find(i int) int {
	for f.c[i].parent != i {
		f.c[i].parent = f.c[f.c[i].parent].parent
		i = f.c[i].parent
	}
	return i
}

// join attaches component b to a
func (f *forest) join(a, b int) {
	f.c[b].parent = a
	if f.c[b].lo < f.c[a].lo {
		f.c[a].lo = f.c[b].lo
	}
	if f.c[b].hi > f.c[a].hi {
		f.c[a].hi = f.c[b].hi
	}
	f.c[a].sig = f.c[a].sig || f.c[b].sig
}

// Detect implements Strategy
func (p *Persistence) Detect(t trace.Trace, noise Noise) []trace.Segment {
	start := t.Start()
	n := t.End() - start + 1
	if n <= 0 {
		return nil
	}
	v := make([]float64, n)
	nl := make([]float64, n)
	for i := range v {
		v[i] = t.IntensityAt(start + i)
		nl[i] = noise.Level(start + i)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return v[order[a]] > v[order[b]] })

	// Pass 1: persistence of every local maximum
	pers := make([]float64, n)
	isMax := make([]bool, n)
	f := newForest(n)
	for _, i := range order {
		f.alive[i] = true
		var roots []int
		for _, j := range []int{i - 1, i + 1} {
			if j >= 0 && j < n && f.alive[j] {
				roots = append(roots, f.find(j))
			}
		}
		switch len(roots) {
		case 0:
			isMax[i] = true
		case 1:
			f.join(roots[0], i)
		case 2:
			a, b := roots[0], roots[1]
			if v[f.c[a].peak] < v[f.c[b].peak] {
				a, b = b, a
			}
			// b has the lower peak and dies here
			pers[f.c[b].peak] = v[f.c[b].peak] - v[i]
			f.join(a, i)
			f.join(a, b)
		}
	}
	top := f.c[f.find(order[0])].peak
	pers[top] = v[top]

	sig := make([]bool, n)
	found := false
	for i := range v {
		if isMax[i] && v[i] > p.NoiseFactor*nl[i] && pers[i] >= p.PersistenceFactor*nl[i] {
			sig[i] = true
			found = true
		}
	}
	if !found {
		return nil
	}

	// Pass 2: basins that never join two significant maxima
	f = newForest(n)
	for _, i := range order {
		f.alive[i] = true
		var roots []int
		for _, j := range []int{i - 1, i + 1} {
			if j >= 0 && j < n && f.alive[j] {
				roots = append(roots, f.find(j))
			}
		}
		switch len(roots) {
		case 0:
			f.c[i].sig = sig[i]
		case 1:
			f.join(roots[0], i)
		case 2:
			a, b := roots[0], roots[1]
			if f.c[a].sig && f.c[b].sig {
				// saddle point goes to the higher neighbour
				if v[i+1] > v[i-1] {
					f.join(f.find(i+1), i)
				} else {
					f.join(f.find(i-1), i)
				}
				continue
			}
			// the significant side, else the higher peak, survives
			if f.c[b].sig || (!f.c[a].sig && v[f.c[a].peak] < v[f.c[b].peak]) {
				a, b = b, a
			}
			f.join(a, i)
			f.join(a, b)
		}
	}

	var segs []trace.Segment
	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		r := f.find(i)
		if seen[r] || !f.c[r].sig {
			continue
		}
		seen[r] = true
		c := f.c[r]
		l, h := c.lo, c.hi
		for l < c.peak && v[l] <= nl[l] && v[l+1] <= nl[l+1] {
			l++
		}
		for h > c.peak && v[h] <= nl[h] && v[h-1] <= nl[h-1] {
			h--
		}
		segs = append(segs, trace.Segment{Apex: start + c.peak, Left: start + l, Right: start + h})
	}
	return segs
}
