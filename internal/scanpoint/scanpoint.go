// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package scanpoint maps scan indices of one retention-time grid onto
// another and interpolates values between them.
package scanpoint

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/interp"
)

// ErrEmpty means one of the time grids has no points
var ErrEmpty = errors.New("scanpoint: empty time grid")

// Mapping holds, for every time of the target grid, the fractional
// index into the source grid
type Mapping struct {
	idx []float64
	n   int
}

// NewMapping computes the fractional index into from of every time in
// to. Both slices must be sorted ascending. Equal times map exactly,
// other times are interpolated linearly between the neighbouring
// entries of from, times outside from are clamped to its first or last
// index.
func NewMapping(from, to []float64) (*Mapping, error) {
	if len(from) == 0 || len(to) == 0 {
		return nil, ErrEmpty
	}
	idx := make([]float64, len(to))
	last := len(from) - 1
	j := 0
	for k, t := range to {
		for j < last && from[j+1] <= t {
			j++
		}
		switch {
		case t <= from[0]:
			idx[k] = 0
		case j == last:
			idx[k] = float64(last)
		default:
			d := from[j+1] - from[j]
			if d <= 0 {
				idx[k] = float64(j)
			} else {
				idx[k] = float64(j) + (t-from[j])/d
			}
		}
	}
	return &Mapping{idx: idx, n: len(from)}, nil
}

// Len returns the number of target points
func (m *Mapping) Len() int { return len(m.idx) }

// At returns the fractional source index of target point k
func (m *Mapping) At(k int) float64 { return m.idx[k] }

// Interpolate returns the value at fractional index f of a series that
// starts at index start. Indices outside the series are clamped.
func Interpolate(values []float64, start int, f float64) float64 {
	if len(values) == 0 {
		return 0
	}
	x := f - float64(start)
	if x <= 0 {
		return values[0]
	}
	last := len(values) - 1
	if x >= float64(last) {
		return values[last]
	}
	i := int(math.Floor(x))
	w := x - float64(i)
	if w == 0 {
		return values[i]
	}
	return values[i]*(1-w) + values[i+1]*w
}

// Curve is a piecewise linear function of retention time, constant
// beyond its first and last point
type Curve struct {
	pl    interp.PiecewiseLinear
	xs    []float64
	ys    []float64
	valid bool
}

// NewCurve builds a curve through (xs[i], ys[i]). Points with a time
// equal to the previous point are dropped.
func NewCurve(xs, ys []float64) (*Curve, error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return nil, ErrEmpty
	}
	c := &Curve{}
	for i := range xs {
		if len(c.xs) > 0 && xs[i] <= c.xs[len(c.xs)-1] {
			continue
		}
		c.xs = append(c.xs, xs[i])
		c.ys = append(c.ys, ys[i])
	}
	if len(c.xs) >= 2 {
		if err := c.pl.Fit(c.xs, c.ys); err != nil {
			return nil, err
		}
		c.valid = true
	}
	return c, nil
}

// At returns the curve value at x
func (c *Curve) At(x float64) float64 {
	if !c.valid {
		return c.ys[0]
	}
	return c.pl.Predict(x)
}
