// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package recal provides the recalibration functions that map a sample's
// measured m/z or retention time onto the reference grid, and fits them
// from pairs of measured and reference values.
package recal

import (
	"errors"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/optimize"
)

// Method is a recalibration function family
type Method int

// The recalibration functions that we can handle
const (
	None Method = iota
	FTICR
	TOF
	Orbitrap
	Offset
	Poly1
	Poly2
	Poly3
	Poly4
	Poly5
)

var (
	// ErrUnknownMethod means the method name is not recognized
	ErrUnknownMethod = errors.New("recal: unknown recalibration method")
	// ErrTooFewPoints means there are not enough pairs to fit the function
	ErrTooFewPoints = errors.New("recal: not enough points to fit recalibration")
	// ErrParams means the number of parameters doesn't match the method
	ErrParams = errors.New("recal: wrong number of parameters for method")
)

// ParseMethod converts a method name (case insensitive) into a Method
func ParseMethod(name string) (Method, error) {
	switch strings.ToUpper(name) {
	case ``, `NONE`, `IDENTITY`:
		return None, nil
	case `FTICR`:
		return FTICR, nil
	case `TOF`:
		return TOF, nil
	case `ORBITRAP`:
		return Orbitrap, nil
	case `OFFSET`:
		return Offset, nil
	case `POLY1`, `LINEAR`:
		return Poly1, nil
	case `POLY2`:
		return Poly2, nil
	case `POLY3`:
		return Poly3, nil
	case `POLY4`:
		return Poly4, nil
	case `POLY5`:
		return Poly5, nil
	}
	return None, ErrUnknownMethod
}

func (m Method) String() string {
	switch m {
	case FTICR:
		return `FTICR`
	case TOF:
		return `TOF`
	case Orbitrap:
		return `Orbitrap`
	case Offset:
		return `OFFSET`
	case Poly1:
		return `POLY1`
	case Poly2:
		return `POLY2`
	case Poly3:
		return `POLY3`
	case Poly4:
		return `POLY4`
	case Poly5:
		return `POLY5`
	}
	return `NONE`
}

// NrParams returns the number of parameters of the method
func (m Method) NrParams() int {
	switch m {
	case FTICR:
		return 2
	case TOF:
		return 3
	case Orbitrap:
		return 2
	case Offset:
		return 1
	case Poly1:
		return 2
	case Poly2:
		return 3
	case Poly3:
		return 4
	case Poly4:
		return 5
	case Poly5:
		return 6
	}
	return 0
}

// initial returns the starting parameters for fitting: the parameter
// with index one is 1.0, the others 0.0, which is (close to) identity
func (m Method) initial() []float64 {
	p := make([]float64, m.NrParams())
	if len(p) > 1 {
		p[1] = 1.0
	}
	return p
}

// Func maps a value measured in one sample to the reference scale
type Func interface {
	Apply(x float64) float64
}

// Identity leaves values unchanged
type Identity struct{}

// Apply returns x
func (Identity) Apply(x float64) float64 { return x }

// Function is a parameterized recalibration function
type Function struct {
	Method Method
	P      []float64
}

// New returns a recalibration function, checking the parameter count
func New(m Method, p []float64) (Function, error) {
	if len(p) != m.NrParams() {
		return Function{}, ErrParams
	}
	return Function{Method: m, P: p}, nil
}

// Shift returns an offset function x -> x + d
func Shift(d float64) Function {
	return Function{Method: Offset, P: []float64{d}}
}

// Apply computes the recalibrated value
func (f Function) Apply(x float64) float64 {
	return apply(x, f.Method, f.P)
}

func polyN(x float64, p []float64, degree int) float64 {
	mp := float64(1.0)
	y := float64(0.0)
	for i := 0; i <= degree; i++ {
		y += p[i] * mp
		mp *= x
	}
	return y
}

func apply(x float64, m Method, p []float64) float64 {
	switch m {
	case FTICR:
		// y = Ca/((1/x)-Cb)
		return p[1] / ((1 / x) - p[0])
	case TOF:
		return p[2]*math.Sqrt(x) + p[1]*x + p[0]
	case Orbitrap:
		// y = A/((f-B)^2) with f = 1/sqrt(x)
		freq := float64(1.0) / math.Sqrt(x)
		fb := freq - p[0]
		return p[1] / (fb * fb)
	case Offset:
		return x + p[0]
	case Poly1:
		return polyN(x, p, 1)
	case Poly2:
		return polyN(x, p, 2)
	case Poly3:
		return polyN(x, p, 3)
	case Poly4:
		return polyN(x, p, 4)
	case Poly5:
		return polyN(x, p, 5)
	}
	return x
}

// Pair is a measured value with its reference value
type Pair struct {
	Measured  float64
	Reference float64
}

// Fit computes the parameters of method m that best map the measured
// values onto the reference values. Outliers are removed according to
// the HUPO-PSI mzQC definition (outside Q1-1.5*IQR..Q3+1.5*IQR of the
// residuals) and the fit is repeated until no outlier remains.
func Fit(m Method, pairs []Pair) (Function, error) {
	if m == None {
		return Function{Method: None}, nil
	}
	pts := make([]Pair, len(pairs))
	copy(pts, pairs)

	var p []float64
	for {
		if len(pts) < m.NrParams() {
			return Function{}, ErrTooFewPoints
		}
		problem := optimize.Problem{
			Func: func(x []float64) float64 {
				sumOfResiduals := float64(0.0)
				for _, pt := range pts {
					diff := apply(pt.Measured, m, x) - pt.Reference
					sumOfResiduals += diff * diff
				}
				return math.Sqrt(sumOfResiduals)
			},
		}
		result, err := optimize.Minimize(problem, m.initial(), nil, nil)
		if err != nil {
			return Function{}, err
		}
		p = result.X
		var satisfied bool
		pts, satisfied = removeOutliers(pts, m, p)
		if satisfied {
			break
		}
	}
	return Function{Method: m, P: p}, nil
}

// Relative residual below which a pair is considered an exact fit
const residualFloor = 1e-6

func residual(pt Pair, m Method, p []float64) float64 {
	return pt.Reference - apply(pt.Measured, m, p)
}

// removeOutliers drops pairs with residuals outside the mzQC limits.
// With less than 4 pairs no outlier detection is done.
func removeOutliers(pts []Pair, m Method, p []float64) ([]Pair, bool) {
	if len(pts) < 4 {
		return pts, true
	}
	sort.Slice(pts, func(i, j int) bool {
		return residual(pts[i], m, p) < residual(pts[j], m, p)
	})
	var q1i1, q1i2 int
	if len(pts) < 6 {
		// For 4 to 5 points, use the values 1 position from the extremes
		q1i1, q1i2 = 1, 1
	} else {
		nq1 := len(pts) / 2
		q1i1 = (nq1 - 1) / 2
		q1i2 = nq1 / 2
	}
	q1 := (residual(pts[q1i1], m, p) + residual(pts[q1i2], m, p)) / 2
	q3 := (residual(pts[len(pts)-q1i1-1], m, p) + residual(pts[len(pts)-q1i2-1], m, p)) / 2
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr
	// Residuals at the level of the optimizer's precision are never outliers
	floor := residualFloor * math.Abs(pts[len(pts)/2].Reference)
	if floor < residualFloor {
		floor = residualFloor
	}
	lo = math.Min(lo, -floor)
	hi = math.Max(hi, floor)

	k := 0
	for _, pt := range pts {
		r := residual(pt, m, p)
		if r >= lo && r <= hi {
			pts[k] = pt
			k++
		}
	}
	return pts[:k], k == len(pts)
}
