// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package pipeline runs a complete merge: sample statistics, trace
// merging, segmentation of the merged traces, alignment of the segments
// onto every sample and feature extraction.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/524D/mzmerge/internal/align"
	"github.com/524D/mzmerge/internal/config"
	"github.com/524D/mzmerge/internal/export"
	"github.com/524D/mzmerge/internal/feature"
	"github.com/524D/mzmerge/internal/jobs"
	"github.com/524D/mzmerge/internal/merge"
	"github.com/524D/mzmerge/internal/metrics"
	"github.com/524D/mzmerge/internal/mzml"
	"github.com/524D/mzmerge/internal/project"
	"github.com/524D/mzmerge/internal/sample"
	"github.com/524D/mzmerge/internal/scanpoint"
	"github.com/524D/mzmerge/internal/segment"
	"github.com/524D/mzmerge/internal/stats"
	"github.com/524D/mzmerge/internal/store"
	"github.com/524D/mzmerge/internal/trace"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pipeline holds the components of a run
type Pipeline struct {
	Params    *config.Params
	Store     *store.Store
	Pool      *jobs.Pool
	Metrics   *metrics.Metrics
	Segmenter segment.Strategy
	Aligner   *align.Aligner
	Extractor feature.Extractor
	Log       zerolog.Logger
}

// Result summarizes a run
type Result struct {
	RunID    string
	Rects    int
	Segments int
	Features []feature.Feature
}

// New builds a pipeline from the parameters
func New(p *config.Params, st *store.Store, m *metrics.Metrics, log zerolog.Logger) *Pipeline {
	if m == nil {
		m = metrics.New(nil)
	}
	seg := segment.NewPersistence()
	seg.NoiseFactor = p.Segment.NoiseFactor
	seg.PersistenceFactor = p.Segment.PersistenceFactor

	al := align.New(seg, log)
	al.BeamWidth = p.Align.BeamWidth
	al.Window = p.Align.Window
	al.MinCoverage = p.Align.MinCoverage
	al.MinDev = p.Align.MinDeviation

	return &Pipeline{
		Params:    p,
		Store:     st,
		Pool:      jobs.New(p.Workers),
		Metrics:   m,
		Segmenter: seg,
		Aligner:   al,
		Extractor: feature.PerSegment{},
		Log:       log,
	}
}

// rectState is what the pipeline keeps per surviving rectangle
type rectState struct {
	merged   *trace.Merged
	segments []trace.Segment
	// per sample, in project order
	derived   []*trace.Contiguous
	projected [][]*trace.Segment
}

// Run processes a project
func (p *Pipeline) Run(ctx context.Context, prj *project.Project) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	if err := p.Store.Reset(); err != nil {
		return nil, err
	}
	if err := p.Store.SetRunID(res.RunID); err != nil {
		return nil, err
	}
	log := p.Log.With().Str("run", res.RunID).Logger()
	log.Info().Str("project", prj.Name).Int("samples", len(prj.Samples)).
		Int("moi", len(prj.MoIs)).Msg("run started")

	if err := p.sampleStats(prj); err != nil {
		return nil, err
	}
	norms, err := normalizers(p.Params.Normalization, prj.Samples, prj.Scale)
	if err != nil {
		return nil, err
	}
	for i, s := range prj.Samples {
		s.Normalizer = norms[i]
	}

	grid, err := merge.BuildGrid(prj.Samples)
	if err != nil {
		return nil, err
	}
	merged := sample.New(store.MergedSampleKey, "merged", grid, nil)
	eng := merge.NewEngine(p.Store, p.Pool, p.Metrics, log)
	if lo, hi, ok, err := p.Params.RtRange(); err != nil {
		return nil, err
	} else if ok {
		eng.RtWindow = &merge.Window{Min: lo, Max: hi}
	}
	mres, err := eng.Merge(ctx, merged, prj.Samples, prj.MoIs)
	if err != nil {
		return nil, err
	}
	res.Rects = len(mres.Rects)

	rects, err := p.segment(merged, mres.Merged, len(prj.Samples))
	if err != nil {
		return nil, err
	}
	for _, r := range rects {
		res.Segments += len(r.segments)
	}

	for j, s := range prj.Samples {
		if err := p.alignSample(ctx, j, s, merged, rects); err != nil {
			return nil, err
		}
	}

	for _, r := range rects {
		in := feature.Input{
			Merged:   r.merged,
			RectID:   r.merged.UID,
			Segments: r.segments,
			Rt:       grid.RetentionTime,
		}
		for j, s := range prj.Samples {
			in.Samples = append(in.Samples, feature.SampleInput{
				SampleID:  s.ID,
				Trace:     r.derived[j],
				Projected: r.projected[j],
				Rt:        s.Scans.RetentionTime,
			})
		}
		res.Features = append(res.Features, p.Extractor.Extract(in)...)
	}
	p.Metrics.Features.Add(float64(len(res.Features)))

	if p.Params.Export != "" {
		if err := p.export(res, prj.Samples, rects); err != nil {
			return nil, err
		}
	}
	log.Info().Int("rectangles", res.Rects).Int("segments", res.Segments).
		Int("features", len(res.Features)).Dur("elapsed", time.Since(start)).Msg("run finished")
	return res, nil
}

// sampleStats computes and stores the statistics of every sample:
// from its spectra when there is an mzML file, from the flat noise
// level of the project otherwise
func (p *Pipeline) sampleStats(prj *project.Project) error {
	c := stats.NewCollector(p.Log)
	c.MS1Percentile = p.Params.Stats.MS1Percentile
	c.MS2Percentile = p.Params.Stats.MS2Percentile
	c.MinMS2Peaks = p.Params.Stats.MinMS2Peaks
	c.MaxSmoothWindow = p.Params.Stats.MaxSmoothWindow

	for _, s := range prj.Samples {
		var st *stats.SampleStats
		if f, ok := prj.Spectra[s.ID]; ok {
			var err error
			st, err = c.Collect(mzml.NewSource(f, 0, f.NumSpecs()-1))
			if err != nil {
				return fmt.Errorf("statistics of sample %s: %w", s.Name, err)
			}
		} else {
			st = stats.Constant(s.Scans.Len(), prj.Noise[s.ID])
		}
		if d := p.Params.Stats.WithinTraces; d != nil {
			st.MS1MassDeviationWithinTraces = stats.Deviation{PPM: d.PPM, Absolute: d.Absolute}
		}
		if d := p.Params.Stats.BetweenTraces; d != nil {
			st.MinimumMS1MassDeviationBetweenTraces = stats.Deviation{PPM: d.PPM, Absolute: d.Absolute}
		}
		s.Stats = st
		if err := p.Store.PutStats(s.ID, st); err != nil {
			return err
		}
	}
	return nil
}

// segment detects the segments of every merged trace
func (p *Pipeline) segment(merged *sample.Sample, traces []*trace.Merged, nSamples int) ([]*rectState, error) {
	noise := segment.PerScan(merged.Stats.NoiseLevelPerScan)
	rects := make([]*rectState, len(traces))
	for i, m := range traces {
		segs := p.Segmenter.Detect(m, noise)
		if len(segs) == 0 {
			p.Log.Warn().Int64("rect", m.UID).Msg("no segments in merged trace")
		}
		ptrs := make([]*trace.Segment, len(segs))
		for k := range segs {
			ptrs[k] = &segs[k]
		}
		if err := p.Store.PutSegments(m.UID, store.MergedSampleKey, ptrs); err != nil {
			return nil, err
		}
		p.Metrics.Segments.WithLabelValues("merged").Add(float64(len(segs)))
		rects[i] = &rectState{
			merged:    m,
			segments:  segs,
			derived:   make([]*trace.Contiguous, nSamples),
			projected: make([][]*trace.Segment, nSamples),
		}
	}
	return rects, nil
}

// alignSample projects the merged segments of all rectangles onto
// sample s, which is sample number j of the project. Rectangles are
// aligned in parallel; every job only writes its own rectangle's slot.
func (p *Pipeline) alignSample(ctx context.Context, j int, s *sample.Sample,
	merged *sample.Sample, rects []*rectState) error {
	toMerged, err := scanpoint.NewMapping(merged.Scans.Times(), s.RecalibratedTimes())
	if err != nil {
		return fmt.Errorf("sample %s: %w", s.Name, err)
	}
	return p.Pool.Each(ctx, len(rects), func(ctx context.Context, i int) error {
		r := rects[i]
		projected := make([]*trace.Segment, len(r.segments))
		traceID, ok := r.merged.TraceIDOf(s.ID)
		if ok && len(r.segments) > 0 {
			t, found, err := p.Store.Trace(traceID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: derived trace %d of rectangle %d missing",
					merge.ErrInvariant, traceID, r.merged.UID)
			}
			r.derived[j] = t
			var rep align.Report
			projected, rep = p.Aligner.Align(align.Input{
				Merged:      r.merged,
				Segments:    r.segments,
				MergedNoise: segment.PerScan(merged.Stats.NoiseLevelPerScan),
				Sample:      t,
				ToMerged:    toMerged.At,
				Dev:         p.Params.Align.Deviation,
			})
			if !math.IsNaN(rep.Coverage) {
				p.Metrics.AlignCoverage.Observe(rep.Coverage)
			}
			p.Metrics.Segments.WithLabelValues("projected").Add(float64(rep.Matched))
			p.Log.Debug().Str("sample", s.Name).Int64("rect", r.merged.UID).
				Int("matched", rep.Matched).Float64("shift", rep.Shift).Msg("segments aligned")
		}
		r.projected[j] = projected
		return p.Store.PutSegments(r.merged.UID, s.ID, projected)
	})
}

// export writes the run to the SQLite database. A failed export leaves
// no run record behind.
func (p *Pipeline) export(res *Result, samples []*sample.Sample, rects []*rectState) error {
	w, err := export.NewWriter(p.Params.Export, res.RunID)
	if err != nil {
		return err
	}
	for _, s := range samples {
		if err := w.WriteSample(s.ID, s.Name); err != nil {
			w.Close()
			return err
		}
	}
	for _, r := range rects {
		if err := w.WriteMerged(r.merged); err != nil {
			w.Close()
			return err
		}
	}
	for i := range res.Features {
		if _, err := w.WriteFeature(&res.Features[i]); err != nil {
			w.Close()
			return err
		}
	}
	p.Log.Info().Str("file", p.Params.Export).Int("features", len(res.Features)).Msg("features exported")
	return w.Finalize()
}
