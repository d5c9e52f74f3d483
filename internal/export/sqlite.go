// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package export writes the features of a merge run to an SQLite
// database
package export

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/524D/mzmerge/internal/feature"
	"github.com/524D/mzmerge/internal/trace"
	_ "github.com/mattn/go-sqlite3"
)

// Date format of RunTable (ISO 8601)
const runDateFormat = "2006-01-02T15:04:05Z07:00"

// Writer writes features to an SQLite database file
type Writer struct {
	db            *sql.DB
	outputPath    string
	runID         string
	sampleStmt    *sql.Stmt
	mergedStmt    *sql.Stmt
	featureStmt   *sql.Stmt
	sampleFtrStmt *sql.Stmt
	features      int64
}

// NewWriter opens or creates the database and its tables. A database
// can hold several runs.
func NewWriter(outputPath string, runID string) (*Writer, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		outputPath: outputPath,
		runID:      runID,
	}

	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	if err := w.prepareStatements(); err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

// createTables creates the schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS RunTable (
		RunId TEXT PRIMARY KEY,
		CreationDate TEXT,
		Features INTEGER
	);

	CREATE TABLE IF NOT EXISTS SampleTable (
		SampleId INTEGER PRIMARY KEY,
		Name TEXT
	);

	CREATE TABLE IF NOT EXISTS MergedTraceTable (
		RunId TEXT REFERENCES RunTable(RunId),
		RectId INTEGER,
		StartScan INTEGER,
		EndScan INTEGER,
		blobMass BLOB,
		blobIntensity BLOB,
		PRIMARY KEY (RunId, RectId)
	);

	CREATE TABLE IF NOT EXISTS FeatureTable (
		FeatureId INTEGER PRIMARY KEY AUTOINCREMENT,
		RunId TEXT REFERENCES RunTable(RunId),
		RectId INTEGER,
		ApexScan INTEGER,
		LeftScan INTEGER,
		RightScan INTEGER,
		RetentionTime DOUBLE,
		Mass DOUBLE,
		Intensity DOUBLE,
		FOREIGN KEY (RunId, RectId) REFERENCES MergedTraceTable(RunId, RectId)
	);

	CREATE TABLE IF NOT EXISTS SampleFeatureTable (
		FeatureId INTEGER REFERENCES FeatureTable(FeatureId),
		SampleId INTEGER REFERENCES SampleTable(SampleId),
		Present BOOL,
		ApexScan INTEGER,
		LeftScan INTEGER,
		RightScan INTEGER,
		RetentionTime DOUBLE,
		Mass DOUBLE,
		Intensity DOUBLE,
		Area DOUBLE,
		PRIMARY KEY (FeatureId, SampleId)
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// prepareStatements prepares SQL statements for batch insertion
func (w *Writer) prepareStatements() error {
	var err error

	w.sampleStmt, err = w.db.Prepare(`
		INSERT OR REPLACE INTO SampleTable (SampleId, Name) VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample statement: %w", err)
	}

	w.mergedStmt, err = w.db.Prepare(`
		INSERT OR REPLACE INTO MergedTraceTable (
			RunId, RectId, StartScan, EndScan, blobMass, blobIntensity
		) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare merged trace statement: %w", err)
	}

	w.featureStmt, err = w.db.Prepare(`
		INSERT INTO FeatureTable (
			RunId, RectId, ApexScan, LeftScan, RightScan,
			RetentionTime, Mass, Intensity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare feature statement: %w", err)
	}

	w.sampleFtrStmt, err = w.db.Prepare(`
		INSERT INTO SampleFeatureTable (
			FeatureId, SampleId, Present, ApexScan, LeftScan, RightScan,
			RetentionTime, Mass, Intensity, Area
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample feature statement: %w", err)
	}

	return nil
}

// WriteSample writes a sample id and name
func (w *Writer) WriteSample(id int32, name string) error {
	if _, err := w.sampleStmt.Exec(id, name); err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// WriteMerged writes a finalized merged trace
func (w *Writer) WriteMerged(m *trace.Merged) error {
	_, err := w.mergedStmt.Exec(
		w.runID,
		m.UID,
		m.StartID,
		m.EndID,
		encodeFloat64(m.Mz),
		encodeFloat64(m.Ints),
	)
	if err != nil {
		return fmt.Errorf("failed to insert merged trace: %w", err)
	}
	return nil
}

// WriteFeature writes a feature with all its per-sample entries and
// returns the feature id the database assigned. Absent sample entries
// get NULL positions.
func (w *Writer) WriteFeature(f *feature.Feature) (int64, error) {
	tx, err := w.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	res, err := tx.Stmt(w.featureStmt).Exec(
		w.runID,
		f.RectID,
		f.Apex,
		f.Left,
		f.Right,
		f.ApexRt,
		f.ApexMz,
		f.ApexIntensity,
	)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to insert feature: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to get feature id: %w", err)
	}

	stmt := tx.Stmt(w.sampleFtrStmt)
	for _, s := range f.Samples {
		var apex, left, right, rt, mz, intensity, area interface{}
		if s.Present {
			apex, left, right = s.Apex, s.Left, s.Right
			rt, mz, intensity, area = s.ApexRt, s.ApexMz, s.ApexIntensity, s.Area
		}
		_, err = stmt.Exec(id, s.SampleID, s.Present,
			apex, left, right, rt, mz, intensity, area)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert sample feature: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit feature: %w", err)
	}

	w.features++
	return id, nil
}

// encodeFloat64 encodes values as a little-endian float64 blob
func encodeFloat64(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

// Finalize writes the run table and closes the database
func (w *Writer) Finalize() error {
	_, err := w.db.Exec(`
		INSERT OR REPLACE INTO RunTable (RunId, CreationDate, Features)
		VALUES (?, ?, ?)
	`, w.runID, time.Now().UTC().Format(runDateFormat), w.features)
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return w.Close()
}

// Close closes the database without recording the run. Use it to
// abandon a failed export.
func (w *Writer) Close() error {
	for _, stmt := range []*sql.Stmt{w.sampleStmt, w.mergedStmt, w.featureStmt, w.sampleFtrStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
