// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package store persists everything the merge produces: rectangles,
// merged traces, derived per-sample traces, sample statistics and
// segments. It is backed by BadgerDB.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/524D/mzmerge/internal/rect"
	"github.com/524D/mzmerge/internal/stats"
	"github.com/524D/mzmerge/internal/trace"
	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// MergedSampleKey is the sample key of the merged virtual sample
const MergedSampleKey int32 = -1

// Key prefixes
const (
	prefixMerged   = "m/"
	prefixTrace    = "t/"
	prefixRect     = "r/"
	prefixStats    = "s/"
	prefixSegments = "g/"
	keySequence    = "seq/trace"
	keyRunID       = "meta/run"
)

// Values of at least this size are compressed
const compressThreshold = 1024

// Envelope flags in front of every value
const (
	envRaw  byte = 0
	envZstd byte = 1
)

// Error is a failure of the storage backend
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Config holds the options of a store
type Config struct {
	// Path is the database directory, ignored when InMemory is set
	Path     string
	InMemory bool
	// SyncWrites makes every commit durable before returning
	SyncWrites bool
	Log        zerolog.Logger
}

// Store is the merge store. It is safe for concurrent use.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	enc *zstd.Encoder
	dec *zstd.Decoder
	log zerolog.Logger
}

// badgerLogger routes badger's own messages to zerolog
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

// Open opens or creates a store. An existing store keeps its contents.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for persistent store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, ioErr("create directory", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: cfg.Log.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, ioErr("open", err)
	}
	seq, err := db.GetSequence([]byte(keySequence), 128)
	if err != nil {
		db.Close()
		return nil, ioErr("sequence", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		seq.Release()
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		seq.Release()
		db.Close()
		return nil, err
	}
	return &Store{db: db, seq: seq, enc: enc, dec: dec, log: cfg.Log}, nil
}

// OpenInMemory opens a store that is lost on Close
func OpenInMemory(log zerolog.Logger) (*Store, error) {
	return Open(Config{InMemory: true, Log: log})
}

// Close releases the id sequence and closes the database
func (s *Store) Close() error {
	var errs []error
	if err := s.seq.Release(); err != nil {
		errs = append(errs, err)
	}
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return ioErr("close", errors.Join(errs...))
}

func idKey(prefix string, id int64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(id))
	return k
}

func sampleKey(key int32) []byte {
	k := make([]byte, len(prefixStats)+4)
	copy(k, prefixStats)
	binary.BigEndian.PutUint32(k[len(prefixStats):], uint32(key))
	return k
}

func segmentsKey(rectID int64, key int32) []byte {
	k := make([]byte, len(prefixSegments)+12)
	copy(k, prefixSegments)
	binary.BigEndian.PutUint64(k[len(prefixSegments):], uint64(rectID))
	binary.BigEndian.PutUint32(k[len(prefixSegments)+8:], uint32(key))
	return k
}

// wrap puts the envelope in front of a record, compressing large ones
func (s *Store) wrap(rec []byte) []byte {
	if len(rec) < compressThreshold {
		return append([]byte{envRaw}, rec...)
	}
	out := make([]byte, 1, len(rec)/2)
	out[0] = envZstd
	return s.enc.EncodeAll(rec, out)
}

func (s *Store) unwrap(v []byte) ([]byte, error) {
	if len(v) == 0 {
		return nil, ErrCorrupt
	}
	switch v[0] {
	case envRaw:
		return v[1:], nil
	case envZstd:
		rec, err := s.dec.DecodeAll(v[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%w: envelope %d", ErrCorrupt, v[0])
}

func (s *Store) put(op string, key, rec []byte) error {
	val := s.wrap(rec)
	return ioErr(op, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	}))
}

// get returns the record stored at key, nil if there is none
func (s *Store) get(op string, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr(op, err)
	}
	return s.unwrap(val)
}

func (s *Store) del(op string, key []byte) error {
	return ioErr(op, s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

// scan calls fn with every record under prefix, in key order
func (s *Store) scan(op, prefix string, fn func(rec []byte) error) error {
	var recs [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			recs = append(recs, v)
		}
		return nil
	})
	if err != nil {
		return ioErr(op, err)
	}
	for _, v := range recs {
		rec, err := s.unwrap(v)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// ClearMerge removes the rectangles, merged and derived traces and
// segments of an earlier merge
func (s *Store) ClearMerge() error {
	return ioErr("clear merge", s.db.DropPrefix(
		[]byte(prefixRect), []byte(prefixMerged), []byte(prefixTrace), []byte(prefixSegments)))
}

// Reset removes everything an earlier run wrote, sample statistics and
// run id included. Trace ids keep counting up.
func (s *Store) Reset() error {
	if err := s.ClearMerge(); err != nil {
		return err
	}
	return ioErr("reset", s.db.DropPrefix([]byte(prefixStats), []byte(keyRunID)))
}

// PutRect stores a rectangle
func (s *Store) PutRect(r rect.Rect) error {
	return s.put("put rect", idKey(prefixRect, r.ID), EncodeRect(r))
}

// DeleteRect removes a rectangle
func (s *Store) DeleteRect(id int64) error {
	return s.del("delete rect", idKey(prefixRect, id))
}

// Rects returns all rectangles ordered by id
func (s *Store) Rects() ([]rect.Rect, error) {
	var out []rect.Rect
	err := s.scan("rects", prefixRect, func(rec []byte) error {
		r, err := DecodeRect(rec)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// PutMerged stores a merged trace under its rectangle id
func (s *Store) PutMerged(m *trace.Merged) error {
	return s.put("put merged trace", idKey(prefixMerged, m.UID), EncodeMerged(m))
}

// Merged returns the merged trace of a rectangle
func (s *Store) Merged(id int64) (*trace.Merged, bool, error) {
	rec, err := s.get("get merged trace", idKey(prefixMerged, id))
	if err != nil || rec == nil {
		return nil, false, err
	}
	m, err := DecodeMerged(rec)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// DeleteMerged removes a merged trace
func (s *Store) DeleteMerged(id int64) error {
	return s.del("delete merged trace", idKey(prefixMerged, id))
}

// MergedTraces returns all merged traces ordered by rectangle id
func (s *Store) MergedTraces() ([]*trace.Merged, error) {
	var out []*trace.Merged
	err := s.scan("merged traces", prefixMerged, func(rec []byte) error {
		m, err := DecodeMerged(rec)
		if err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// AddTrace stores a copy of t under a new id and returns the copy
func (s *Store) AddTrace(t *trace.Contiguous) (*trace.Contiguous, error) {
	n, err := s.seq.Next()
	if err != nil {
		return nil, ioErr("next trace id", err)
	}
	c := t.WithUID(int64(n) + 1)
	if err := s.put("add trace", idKey(prefixTrace, c.UID), EncodeTrace(c)); err != nil {
		return nil, err
	}
	return c, nil
}

// Trace returns a derived trace
func (s *Store) Trace(id int64) (*trace.Contiguous, bool, error) {
	rec, err := s.get("get trace", idKey(prefixTrace, id))
	if err != nil || rec == nil {
		return nil, false, err
	}
	t, err := DecodeTrace(rec)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// PutStats stores the statistics of a sample, MergedSampleKey for the
// merged sample
func (s *Store) PutStats(key int32, st *stats.SampleStats) error {
	return s.put("put stats", sampleKey(key), EncodeStats(st))
}

// Stats returns the statistics of a sample
func (s *Store) Stats(key int32) (*stats.SampleStats, bool, error) {
	rec, err := s.get("get stats", sampleKey(key))
	if err != nil || rec == nil {
		return nil, false, err
	}
	st, err := DecodeStats(rec)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// PutSegments stores the segments of a rectangle for one sample. The
// merged trace's segments use MergedSampleKey.
func (s *Store) PutSegments(rectID int64, key int32, segs []*trace.Segment) error {
	return s.put("put segments", segmentsKey(rectID, key), EncodeSegments(segs))
}

// Segments returns the segments of a rectangle for one sample
func (s *Store) Segments(rectID int64, key int32) ([]*trace.Segment, bool, error) {
	rec, err := s.get("get segments", segmentsKey(rectID, key))
	if err != nil || rec == nil {
		return nil, false, err
	}
	segs, err := DecodeSegments(rec)
	if err != nil {
		return nil, false, err
	}
	return segs, true, nil
}

// SetRunID records the id of the run that wrote the store
func (s *Store) SetRunID(id string) error {
	return ioErr("put run id", s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyRunID), []byte(id))
	}))
}

// RunID returns the id of the run that wrote the store, empty if unset
func (s *Store) RunID() (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyRunID))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		id = string(v)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	return id, ioErr("get run id", err)
}
