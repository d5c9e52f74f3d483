// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package merge builds the cross-sample merged trace of every aligned
// m/z x retention time rectangle.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/524D/mzmerge/internal/jobs"
	"github.com/524D/mzmerge/internal/metrics"
	"github.com/524D/mzmerge/internal/rect"
	"github.com/524D/mzmerge/internal/sample"
	"github.com/524D/mzmerge/internal/scanpoint"
	"github.com/524D/mzmerge/internal/stats"
	"github.com/524D/mzmerge/internal/store"
	"github.com/524D/mzmerge/internal/trace"
	"github.com/rs/zerolog"
)

// ErrInvariant is wrapped by errors that indicate a logic error, such as
// a merged trace that must exist but doesn't
var ErrInvariant = errors.New("merge: invariant violated")

// Observation is a mass of interest as seen in one sample, in that
// sample's own m/z and retention time
type Observation struct {
	SampleID int32
	Mz       float64
	Rt       float64
	TraceID  int64
}

// MoI is a mass of interest: a candidate compound at reference
// coordinates with its observations in the samples
type MoI struct {
	ID           int64
	SampleID     int32
	Mz           float64
	Rt           float64
	Observations []Observation
}

// Window is a closed retention time interval
type Window struct {
	Min float64
	Max float64
}

// Contains reports whether rt lies in the window
func (w Window) Contains(rt float64) bool {
	return rt >= w.Min && rt <= w.Max
}

// Store is the part of the merge store the engine writes to
type Store interface {
	PutRect(r rect.Rect) error
	DeleteRect(id int64) error
	PutMerged(m *trace.Merged) error
	Merged(id int64) (*trace.Merged, bool, error)
	DeleteMerged(id int64) error
	AddTrace(t *trace.Contiguous) (*trace.Contiguous, error)
	ClearMerge() error
	PutStats(key int32, st *stats.SampleStats) error
}

// Engine merges the traces of all samples per rectangle
type Engine struct {
	Store   Store
	Pool    *jobs.Pool
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	// Only masses of interest inside RtWindow become rectangles
	RtWindow *Window
}

// Result describes the surviving rectangles and their merged traces
type Result struct {
	Rects  []rect.Rect
	Merged []*trace.Merged
	Stats  *stats.SampleStats
}

// NewEngine returns an engine writing to st
func NewEngine(st Store, pool *jobs.Pool, m *metrics.Metrics, log zerolog.Logger) *Engine {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Engine{Store: st, Pool: pool, Metrics: m, Log: log}
}

// BuildRects creates one rectangle per mass of interest enclosing all
// recalibrated observations and merges overlapping rectangles
func (e *Engine) BuildRects(samples []*sample.Sample, mois []MoI) *rect.Index {
	byID := sampleIndex(samples)
	idx := rect.NewIndex()
	for _, m := range mois {
		if e.RtWindow != nil && !e.RtWindow.Contains(m.Rt) {
			continue
		}
		r := rect.Point(m.ID, m.Mz, m.Rt)
		for _, o := range m.Observations {
			s, ok := byID[o.SampleID]
			if !ok {
				e.Log.Warn().Int64("moi", m.ID).Int32("sample", o.SampleID).
					Msg("observation of unknown sample ignored")
				continue
			}
			r.Enclose(s.MzRecal.Apply(o.Mz), s.RtRecal.Apply(o.Rt))
		}
		idx.Upgrade(r)
	}
	return idx
}

func sampleIndex(samples []*sample.Sample) map[int32]*sample.Sample {
	byID := make(map[int32]*sample.Sample, len(samples))
	for _, s := range samples {
		byID[s.ID] = s
	}
	return byID
}

// Merge builds and persists the merged trace of every rectangle. The
// merged sample's scans are the merged grid; its statistics are set to
// the averaged noise of the samples. The results of an earlier merge in
// the store are removed first.
func (e *Engine) Merge(ctx context.Context, merged *sample.Sample, samples []*sample.Sample, mois []MoI) (*Result, error) {
	if err := e.Store.ClearMerge(); err != nil {
		return nil, err
	}
	idx := e.BuildRects(samples, mois)
	rects := idx.ByID()
	e.Log.Info().Int("moi", len(mois)).Int("rectangles", len(rects)).Msg("rectangles built")

	members := make(map[int64][]*MoI, len(rects))
	for i := range mois {
		m := &mois[i]
		if e.RtWindow != nil && !e.RtWindow.Contains(m.Rt) {
			continue
		}
		for _, r := range idx.Containing(m.Mz, m.Rt) {
			members[r.ID] = append(members[r.ID], m)
		}
	}
	for _, r := range rects {
		if err := e.Store.PutRect(r); err != nil {
			return nil, err
		}
		if err := e.Store.PutMerged(trace.NewMerged(r.ID)); err != nil {
			return nil, err
		}
	}

	grid := merged.Scans
	for _, s := range samples {
		if err := e.mergeSample(ctx, s, grid, rects, members); err != nil {
			return nil, err
		}
	}

	noise := e.mergedNoise(samples, grid)
	var parts []*stats.SampleStats
	for _, s := range samples {
		if s.Stats != nil {
			parts = append(parts, s.Stats)
		}
	}
	merged.Stats = stats.MergeStats(noise, parts)
	if err := e.Store.PutStats(store.MergedSampleKey, merged.Stats); err != nil {
		return nil, err
	}

	res := &Result{Stats: merged.Stats}
	for _, r := range rects {
		m, ok, err := e.Store.Merged(r.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no merged trace for rectangle %d", ErrInvariant, r.ID)
		}
		if len(m.SampleIDs) == 0 {
			e.Log.Warn().Int64("rect", r.ID).Msg("no sample contributes to rectangle, dropped")
			e.Metrics.JobsSkipped.WithLabelValues("empty_rect").Inc()
			if err := e.Store.DeleteMerged(r.ID); err != nil {
				return nil, err
			}
			if err := e.Store.DeleteRect(r.ID); err != nil {
				return nil, err
			}
			idx.Remove(r.ID)
			continue
		}
		m.Finalize()
		if err := e.Store.PutMerged(m); err != nil {
			return nil, err
		}
		res.Rects = append(res.Rects, r)
		res.Merged = append(res.Merged, m)
	}
	e.Metrics.Rectangles.Set(float64(len(res.Rects)))
	e.Log.Info().Int("rectangles", len(res.Rects)).Msg("merge finished")
	return res, nil
}

// mergeSample adds one sample to all rectangles, one job per rectangle
func (e *Engine) mergeSample(ctx context.Context, s *sample.Sample, grid *sample.ScanMapping,
	rects []rect.Rect, members map[int64][]*MoI) error {
	start := time.Now()
	if err := s.Activate(); err != nil {
		return err
	}
	defer s.Deactivate()

	rts := s.RecalibratedTimes()
	mapping, err := scanpoint.NewMapping(rts, grid.Times())
	if err != nil {
		return fmt.Errorf("sample %s: %w", s.Name, err)
	}
	b := e.Pool.Batch(ctx)
	for _, r := range rects {
		b.Submit(func(ctx context.Context) error {
			return e.mergeRect(s, r, members[r.ID], rts, grid, mapping)
		})
	}
	if err := b.Wait(); err != nil {
		return err
	}
	e.Metrics.SamplePassTiming.Observe(time.Since(start).Seconds())
	e.Log.Info().Str("sample", s.Name).Dur("elapsed", time.Since(start)).Msg("sample merged")
	return nil
}

// mergeRect adds the traces of sample s that belong to rectangle r.
// Only invariant violations and store failures are returned as errors.
func (e *Engine) mergeRect(s *sample.Sample, r rect.Rect, mois []*MoI, rts []float64,
	grid *sample.ScanMapping, mapping *scanpoint.Mapping) error {
	var ids []int64
	seen := make(map[int64]bool)
	for _, m := range mois {
		for _, o := range m.Observations {
			if o.SampleID == s.ID && !seen[o.TraceID] {
				seen[o.TraceID] = true
				ids = append(ids, o.TraceID)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var traces []*trace.Contiguous
	for _, id := range ids {
		t, ok, err := s.Trace(id)
		if err != nil {
			return err
		}
		if !ok {
			e.Log.Warn().Str("sample", s.Name).Int64("trace", id).Int64("rect", r.ID).
				Msg("trace of mass of interest not found")
			continue
		}
		if t.StartID < 0 || t.EndID >= len(rts) {
			e.Log.Warn().Str("sample", s.Name).Int64("trace", id).
				Msg("trace outside the scan range of its sample")
			continue
		}
		traces = append(traces, t)
	}
	if len(traces) == 0 {
		e.Metrics.JobsSkipped.WithLabelValues("missing_trace").Inc()
		return nil
	}
	combined, err := trace.Combine(traces)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	derived, err := e.Store.AddTrace(combined)
	if err != nil {
		return err
	}

	m, ok, err := e.Store.Merged(r.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no merged trace for rectangle %d", ErrInvariant, r.ID)
	}
	m.AddContributor(s.ID, derived.UID)

	k0 := grid.IndexAtOrAbove(rts[derived.StartID])
	k1 := grid.IndexAtOrBelow(rts[derived.EndID])
	for k := k0; k <= k1; k++ {
		f := mapping.At(k)
		intensity := scanpoint.Interpolate(derived.Intensity, derived.StartID, f)
		mz := scanpoint.Interpolate(derived.Mz, derived.StartID, f)
		m.Add(k, mz, s.Normalizer.Normalize(intensity))
	}
	if err := e.Store.PutMerged(m); err != nil {
		return err
	}
	e.Metrics.TracesMerged.WithLabelValues(s.Name).Inc()
	e.Log.Debug().Str("sample", s.Name).Int64("rect", r.ID).Int64("trace", derived.UID).
		Int("from", k0).Int("to", k1).Msg("trace merged")
	return nil
}

// mergedNoise averages the normalized noise curves of the samples on
// the merged grid
func (e *Engine) mergedNoise(samples []*sample.Sample, grid *sample.ScanMapping) []float64 {
	noise := make([]float64, grid.Len())
	n := 0
	for _, s := range samples {
		if s.Stats == nil || len(s.Stats.NoiseLevelPerScan) == 0 {
			continue
		}
		rts := s.RecalibratedTimes()
		levels := s.Stats.NoiseLevelPerScan
		l := min(len(rts), len(levels))
		c, err := scanpoint.NewCurve(rts[:l], levels[:l])
		if err != nil {
			e.Log.Warn().Err(err).Str("sample", s.Name).Msg("noise curve not usable")
			continue
		}
		for k, t := range grid.Times() {
			noise[k] += s.Normalizer.Normalize(c.At(t))
		}
		n++
	}
	if n > 0 {
		for k := range noise {
			noise[k] /= float64(n)
		}
	}
	return noise
}
