// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/524D/mzmerge/internal/rect"
	"github.com/524D/mzmerge/internal/stats"
	"github.com/524D/mzmerge/internal/trace"
)

// Record tags. Every encoded record starts with its tag and the codec
// version.
const (
	tagMerged   byte = 1
	tagStats    byte = 2
	tagTrace    byte = 3
	tagRect     byte = 4
	tagSegments byte = 5
)

const codecVersion byte = 1

var (
	// ErrUnknownRecord means a record with a tag this version can't read
	ErrUnknownRecord = errors.New("store: unknown record type")
	// ErrCorrupt means a record is truncated or malformed
	ErrCorrupt = errors.New("store: corrupt record")
)

type encoder struct {
	buf bytes.Buffer
	b8  [8]byte
}

func newEncoder(tag byte) *encoder {
	e := &encoder{}
	e.buf.WriteByte(tag)
	e.buf.WriteByte(codecVersion)
	return e
}

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.b8[:], v)
	e.buf.Write(e.b8[:])
}

func (e *encoder) i64(v int64)   { e.u64(uint64(v)) }
func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }

func (e *encoder) i32(v int32) {
	binary.LittleEndian.PutUint32(e.b8[:4], uint32(v))
	e.buf.Write(e.b8[:4])
}

func (e *encoder) floats(v []float64) {
	e.u64(uint64(len(v)))
	for _, x := range v {
		e.f64(x)
	}
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

type decoder struct {
	b   []byte
	err error
}

func newDecoder(b []byte, tag byte) (*decoder, error) {
	if len(b) < 2 {
		return nil, ErrCorrupt
	}
	if b[0] != tag {
		if b[0] < tagMerged || b[0] > tagSegments {
			return nil, fmt.Errorf("%w: tag %d", ErrUnknownRecord, b[0])
		}
		return nil, fmt.Errorf("%w: tag %d, expected %d", ErrCorrupt, b[0], tag)
	}
	if b[1] != codecVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnknownRecord, b[1])
	}
	return &decoder{b: b[2:]}, nil
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.err = ErrCorrupt
		return nil
	}
	v := d.b[:n]
	d.b = d.b[n:]
	return v
}

func (d *decoder) u64() uint64 {
	v := d.take(8)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

func (d *decoder) i64() int64   { return int64(d.u64()) }
func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }

func (d *decoder) i32() int32 {
	v := d.take(4)
	if v == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(v))
}

func (d *decoder) count(size int) int {
	n := d.u64()
	if d.err == nil && n > uint64(len(d.b)/size) {
		d.err = ErrCorrupt
		return 0
	}
	return int(n)
}

func (d *decoder) floats() []float64 {
	n := d.count(8)
	v := make([]float64, n)
	for i := range v {
		v[i] = d.f64()
	}
	return v
}

func (d *decoder) done() error {
	if d.err == nil && len(d.b) != 0 {
		d.err = ErrCorrupt
	}
	return d.err
}

// EncodeMerged serializes a merged trace
func EncodeMerged(m *trace.Merged) []byte {
	e := newEncoder(tagMerged)
	e.i64(m.UID)
	e.i64(int64(m.StartID))
	e.i64(int64(m.EndID))
	e.floats(m.Mz)
	e.floats(m.Ints)
	e.u64(uint64(len(m.SampleIDs)))
	for _, s := range m.SampleIDs {
		e.i32(s)
	}
	e.u64(uint64(len(m.TraceIDs)))
	for _, t := range m.TraceIDs {
		e.i64(t)
	}
	return e.bytes()
}

// DecodeMerged reads a merged trace
func DecodeMerged(b []byte) (*trace.Merged, error) {
	d, err := newDecoder(b, tagMerged)
	if err != nil {
		return nil, err
	}
	m := &trace.Merged{}
	m.UID = d.i64()
	m.StartID = int(d.i64())
	m.EndID = int(d.i64())
	m.Mz = d.floats()
	m.Ints = d.floats()
	if n := d.count(4); n > 0 {
		m.SampleIDs = make([]int32, n)
		for i := range m.SampleIDs {
			m.SampleIDs[i] = d.i32()
		}
	}
	if n := d.count(8); n > 0 {
		m.TraceIDs = make([]int64, n)
		for i := range m.TraceIDs {
			m.TraceIDs[i] = d.i64()
		}
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	if len(m.Mz) != len(m.Ints) || (len(m.Mz) > 0 && len(m.Mz) != m.EndID-m.StartID+1) {
		return nil, fmt.Errorf("%w: merged trace %d arrays don't match range", ErrCorrupt, m.UID)
	}
	return m, nil
}

// EncodeStats serializes sample statistics
func EncodeStats(s *stats.SampleStats) []byte {
	e := newEncoder(tagStats)
	e.f64(s.MS2NoiseLevel)
	e.floats(s.NoiseLevelPerScan)
	e.f64(s.MS1MassDeviationWithinTraces.PPM)
	e.f64(s.MS1MassDeviationWithinTraces.Absolute)
	e.f64(s.MinimumMS1MassDeviationBetweenTraces.PPM)
	e.f64(s.MinimumMS1MassDeviationBetweenTraces.Absolute)
	return e.bytes()
}

// DecodeStats reads sample statistics
func DecodeStats(b []byte) (*stats.SampleStats, error) {
	d, err := newDecoder(b, tagStats)
	if err != nil {
		return nil, err
	}
	s := &stats.SampleStats{}
	s.MS2NoiseLevel = d.f64()
	s.NoiseLevelPerScan = d.floats()
	s.MS1MassDeviationWithinTraces.PPM = d.f64()
	s.MS1MassDeviationWithinTraces.Absolute = d.f64()
	s.MinimumMS1MassDeviationBetweenTraces.PPM = d.f64()
	s.MinimumMS1MassDeviationBetweenTraces.Absolute = d.f64()
	if err := d.done(); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeTrace serializes a contiguous trace
func EncodeTrace(t *trace.Contiguous) []byte {
	e := newEncoder(tagTrace)
	e.i64(t.UID)
	e.i64(int64(t.StartID))
	e.i64(int64(t.EndID))
	e.f64(t.AveragedMz)
	e.floats(t.Mz)
	e.floats(t.Intensity)
	return e.bytes()
}

// DecodeTrace reads a contiguous trace
func DecodeTrace(b []byte) (*trace.Contiguous, error) {
	d, err := newDecoder(b, tagTrace)
	if err != nil {
		return nil, err
	}
	t := &trace.Contiguous{}
	t.UID = d.i64()
	t.StartID = int(d.i64())
	t.EndID = int(d.i64())
	t.AveragedMz = d.f64()
	t.Mz = d.floats()
	t.Intensity = d.floats()
	if err := d.done(); err != nil {
		return nil, err
	}
	if len(t.Mz) != len(t.Intensity) || len(t.Mz) != t.EndID-t.StartID+1 {
		return nil, fmt.Errorf("%w: trace %d arrays don't match range", ErrCorrupt, t.UID)
	}
	return t, nil
}

// EncodeRect serializes a rectangle
func EncodeRect(r rect.Rect) []byte {
	e := newEncoder(tagRect)
	e.i64(r.ID)
	e.f64(r.MinMz)
	e.f64(r.MaxMz)
	e.f64(r.MinRt)
	e.f64(r.MaxRt)
	return e.bytes()
}

// DecodeRect reads a rectangle
func DecodeRect(b []byte) (rect.Rect, error) {
	d, err := newDecoder(b, tagRect)
	if err != nil {
		return rect.Rect{}, err
	}
	r := rect.Rect{ID: d.i64(), MinMz: d.f64(), MaxMz: d.f64(), MinRt: d.f64(), MaxRt: d.f64()}
	return r, d.done()
}

// EncodeSegments serializes a segment array. Nil entries are stored as
// absent.
func EncodeSegments(segs []*trace.Segment) []byte {
	e := newEncoder(tagSegments)
	e.u64(uint64(len(segs)))
	for _, s := range segs {
		if s == nil {
			e.buf.WriteByte(0)
			e.i64(0)
			e.i64(0)
			e.i64(0)
			continue
		}
		e.buf.WriteByte(1)
		e.i64(int64(s.Apex))
		e.i64(int64(s.Left))
		e.i64(int64(s.Right))
	}
	return e.bytes()
}

// DecodeSegments reads a segment array
func DecodeSegments(b []byte) ([]*trace.Segment, error) {
	d, err := newDecoder(b, tagSegments)
	if err != nil {
		return nil, err
	}
	n := d.count(25)
	segs := make([]*trace.Segment, n)
	for i := range segs {
		flag := d.take(1)
		apex, left, right := d.i64(), d.i64(), d.i64()
		if flag == nil {
			break
		}
		if flag[0] == 1 {
			segs[i] = &trace.Segment{Apex: int(apex), Left: int(left), Right: int(right)}
		}
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return segs, nil
}
