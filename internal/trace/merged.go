// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package trace

// Merged accumulates the traces of all samples that contribute to one
// rectangle. While accumulating, Ints holds the summed normalized
// intensities and Mz the summed intensity weighted m/z values.
// Finalize turns Mz into the weighted average.
//
// The buffer is indexed relative to StartID. An empty trace has
// EndID == StartID-1.
type Merged struct {
	UID       int64
	StartID   int
	EndID     int
	Mz        []float64
	Ints      []float64
	SampleIDs []int32
	TraceIDs  []int64
}

// NewMerged returns an empty merged trace for rectangle uid
func NewMerged(uid int64) *Merged {
	return &Merged{UID: uid, StartID: 0, EndID: -1}
}

// Len returns the number of scans covered
func (m *Merged) Len() int { return m.EndID - m.StartID + 1 }

// Empty reports whether no scan is covered yet
func (m *Merged) Empty() bool { return m.Len() <= 0 }

// Start returns the first scan index
func (m *Merged) Start() int { return m.StartID }

// End returns the last scan index
func (m *Merged) End() int { return m.EndID }

// Extend grows the buffer to cover the union of the current range and
// [start, end]. Existing values keep their absolute scan index, new
// positions are zero. It never shrinks.
func (m *Merged) Extend(start, end int) {
	if end < start {
		return
	}
	if m.Empty() {
		m.StartID, m.EndID = start, end
		m.Mz = make([]float64, end-start+1)
		m.Ints = make([]float64, end-start+1)
		return
	}
	if start >= m.StartID && end <= m.EndID {
		return
	}
	newStart, newEnd := m.StartID, m.EndID
	if start < newStart {
		newStart = start
	}
	if end > newEnd {
		newEnd = end
	}
	n := newEnd - newStart + 1
	off := m.StartID - newStart
	mz := make([]float64, n)
	ints := make([]float64, n)
	copy(mz[off:], m.Mz)
	copy(ints[off:], m.Ints)
	m.StartID, m.EndID, m.Mz, m.Ints = newStart, newEnd, mz, ints
}

// Add accumulates one contribution at absolute scan index scan,
// extending the buffer when needed.
func (m *Merged) Add(scan int, mz, intensity float64) {
	if m.Empty() || scan < m.StartID || scan > m.EndID {
		m.Extend(scan, scan)
	}
	k := scan - m.StartID
	m.Mz[k] += mz * intensity
	m.Ints[k] += intensity
}

// AddContributor records that sample sampleID contributed trace traceID
func (m *Merged) AddContributor(sampleID int32, traceID int64) {
	m.SampleIDs = append(m.SampleIDs, sampleID)
	m.TraceIDs = append(m.TraceIDs, traceID)
}

// Finalize divides the accumulated m/z sums by the intensities.
// Positions without intensity are left untouched. Must be called once.
func (m *Merged) Finalize() {
	for i, w := range m.Ints {
		if w > 0 {
			m.Mz[i] /= w
		}
	}
}

// IntensityAt returns the intensity at absolute scan index, 0 outside
func (m *Merged) IntensityAt(scan int) float64 {
	if m.Empty() || scan < m.StartID || scan > m.EndID {
		return 0
	}
	return m.Ints[scan-m.StartID]
}

// MzAt returns the m/z at absolute scan index, 0 outside
func (m *Merged) MzAt(scan int) float64 {
	if m.Empty() || scan < m.StartID || scan > m.EndID {
		return 0
	}
	return m.Mz[scan-m.StartID]
}

// ApexScan returns the scan with the highest intensity
func (m *Merged) ApexScan() int {
	return apex(m)
}

// TraceIDOf returns the contributing trace of sampleID, if any
func (m *Merged) TraceIDOf(sampleID int32) (int64, bool) {
	for i, s := range m.SampleIDs {
		if s == sampleID {
			return m.TraceIDs[i], true
		}
	}
	return 0, false
}
