// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package sample

import (
	"sync"

	"github.com/524D/mzmerge/internal/trace"
)

// TraceStorage gives access to the traces of one sample. Load and
// Release bracket the period in which traces are kept in memory.
type TraceStorage interface {
	Load() error
	Release()
	Trace(id int64) (*trace.Contiguous, bool)
}

// Loader reads all traces of a sample
type Loader func() ([]*trace.Contiguous, error)

// LazyStorage keeps traces in memory only while loaded
type LazyStorage struct {
	load   Loader
	mu     sync.RWMutex
	traces map[int64]*trace.Contiguous
}

// NewLazyStorage returns storage that calls load on activation
func NewLazyStorage(load Loader) *LazyStorage {
	return &LazyStorage{load: load}
}

// NewMemoryStorage returns storage backed by a fixed set of traces.
// Release keeps them, there is nothing to reload from.
func NewMemoryStorage(traces []*trace.Contiguous) *MemoryStorage {
	m := &MemoryStorage{traces: make(map[int64]*trace.Contiguous, len(traces))}
	for _, t := range traces {
		m.traces[t.UID] = t
	}
	return m
}

// Load calls the loader
func (l *LazyStorage) Load() error {
	traces, err := l.load()
	if err != nil {
		return err
	}
	m := make(map[int64]*trace.Contiguous, len(traces))
	for _, t := range traces {
		m[t.UID] = t
	}
	l.mu.Lock()
	l.traces = m
	l.mu.Unlock()
	return nil
}

// Release drops the traces
func (l *LazyStorage) Release() {
	l.mu.Lock()
	l.traces = nil
	l.mu.Unlock()
}

// Trace returns a loaded trace
func (l *LazyStorage) Trace(id int64) (*trace.Contiguous, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.traces[id]
	return t, ok
}

// MemoryStorage always holds its traces
type MemoryStorage struct {
	traces map[int64]*trace.Contiguous
}

// Load does nothing
func (m *MemoryStorage) Load() error { return nil }

// Release does nothing
func (m *MemoryStorage) Release() {}

// Trace returns a trace
func (m *MemoryStorage) Trace(id int64) (*trace.Contiguous, bool) {
	t, ok := m.traces[id]
	return t, ok
}
