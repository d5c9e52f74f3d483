// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package mzml

import "fmt"

// Source exposes a range of spectra of an mzML file to the statistics
// collector
type Source struct {
	f     *MzML
	first int
	n     int
}

// NewSource returns the spectra first..last (inclusive) of f. Indices
// are clamped to the file.
func NewSource(f *MzML, first, last int) *Source {
	if first < 0 {
		first = 0
	}
	if last >= f.NumSpecs() {
		last = f.NumSpecs() - 1
	}
	n := last - first + 1
	if n < 0 {
		n = 0
	}
	return &Source{f: f, first: first, n: n}
}

// NumSpectra returns the number of spectra
func (s *Source) NumSpectra() int { return s.n }

// MSLevel returns the MS level of spectrum i
func (s *Source) MSLevel(i int) (int, error) {
	return s.f.MSLevel(s.first + i)
}

// Intensities returns the peak intensities of spectrum i
func (s *Source) Intensities(i int) ([]float64, error) {
	p, err := s.f.ReadScan(s.first + i)
	if err != nil {
		return nil, err
	}
	ints := make([]float64, len(p))
	for k := range p {
		ints[k] = p[k].Intens
	}
	return ints, nil
}

// MS1RetentionTimes returns the retention times of all MS1 spectra in
// file order
func (f *MzML) MS1RetentionTimes() ([]float64, error) {
	var rts []float64
	for i := 0; i < f.NumSpecs(); i++ {
		level, err := f.MSLevel(i)
		if err != nil {
			return nil, err
		}
		if level != 1 {
			continue
		}
		rt, err := f.RetentionTime(i)
		if err != nil {
			return nil, fmt.Errorf("spectrum %d: %w", i, err)
		}
		rts = append(rts, rt)
	}
	return rts, nil
}
