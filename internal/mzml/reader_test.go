package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testSpec struct {
	id      string
	msLevel int
	rt      string
	rtUnit  string
	mz      []float64
	ints    []float64
	zlib    bool
	bits32  bool
}

func encodeArray(t *testing.T, v []float64, compress, bits32 bool) string {
	t.Helper()
	var buf bytes.Buffer
	for _, x := range v {
		if bits32 {
			binary.Write(&buf, binary.LittleEndian, float32(x))
		} else {
			binary.Write(&buf, binary.LittleEndian, x)
		}
	}
	data := buf.Bytes()
	if compress {
		var z bytes.Buffer
		w := zlib.NewWriter(&z)
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
		w.Close()
		data = z.Bytes()
	}
	return base64.StdEncoding.EncodeToString(data)
}

func arrayXML(t *testing.T, kind string, v []float64, s testSpec) string {
	var cv []string
	if s.zlib {
		cv = append(cv, `<cvParam cvRef="MS" accession="MS:1000574" name="zlib compression"/>`)
	} else {
		cv = append(cv, `<cvParam cvRef="MS" accession="MS:1000576" name="no compression"/>`)
	}
	if s.bits32 {
		cv = append(cv, `<cvParam cvRef="MS" accession="MS:1000521" name="32-bit float"/>`)
	} else {
		cv = append(cv, `<cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>`)
	}
	cv = append(cv, fmt.Sprintf(`<cvParam cvRef="MS" accession="%s"/>`, kind))
	return fmt.Sprintf("<binaryDataArray>%s<binary>%s</binary></binaryDataArray>",
		strings.Join(cv, ""), encodeArray(t, v, s.zlib, s.bits32))
}

func buildMzML(t *testing.T, specs []testSpec) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<indexedmzML xmlns="http://psi.hupo.org/ms/mzml">`)
	b.WriteString(`<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0">`)
	fmt.Fprintf(&b, `<run id="r1"><spectrumList count="%d">`, len(specs))
	for i, s := range specs {
		fmt.Fprintf(&b, `<spectrum index="%d" id="%s" defaultArrayLength="%d">`, i, s.id, len(s.mz))
		fmt.Fprintf(&b, `<cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="%d"/>`, s.msLevel)
		if s.msLevel == 2 {
			b.WriteString(`<cvParam cvRef="MS" accession="MS:1000127" name="centroid spectrum"/>`)
		}
		b.WriteString(`<scanList count="1"><scan>`)
		if s.rt != "" {
			fmt.Fprintf(&b, `<cvParam cvRef="MS" accession="MS:1000016" name="scan start time" value="%s" unitAccession="%s"/>`,
				s.rt, s.rtUnit)
		}
		b.WriteString(`</scan></scanList>`)
		b.WriteString(`<binaryDataArrayList count="2">`)
		b.WriteString(arrayXML(t, "MS:1000514", s.mz, s))
		b.WriteString(arrayXML(t, "MS:1000515", s.ints, s))
		b.WriteString(`</binaryDataArrayList></spectrum>`)
	}
	b.WriteString(`</spectrumList></run></mzML>`)
	b.WriteString(`<indexList count="0"/></indexedmzML>`)
	return b.String()
}

var testSpecs = []testSpec{
	{id: "scan=1", msLevel: 1, rt: "0.5", rtUnit: "UO:0000031",
		mz: []float64{400.1, 500.2, 600.3}, ints: []float64{10, 200, 30}},
	{id: "scan=2", msLevel: 2, rt: "31.5", rtUnit: "UO:0000010",
		mz: []float64{150, 250}, ints: []float64{5, 7}, zlib: true},
	{id: "scan=3", msLevel: 1, rt: "1", rtUnit: "UO:0000031",
		mz: []float64{400.5, 500.5}, ints: []float64{1.5, 2.5}, bits32: true},
}

func readTestFile(t *testing.T, specs []testSpec) *MzML {
	t.Helper()
	f, err := Read(strings.NewReader(buildMzML(t, specs)))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	return f
}

func TestReadScan(t *testing.T) {
	f := readTestFile(t, testSpecs)
	if f.NumSpecs() != 3 {
		t.Fatalf("NumSpecs: %d, should be 3", f.NumSpecs())
	}
	p, err := f.ReadScan(0)
	if err != nil {
		t.Fatalf("ReadScan: error return %v", err)
	}
	want := []Peak{{400.1, 10}, {500.2, 200}, {600.3, 30}}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("ReadScan(0) mismatch (-want +got):\n%s", diff)
	}
	// zlib compressed
	p, err = f.ReadScan(1)
	if err != nil {
		t.Fatalf("ReadScan: error return %v", err)
	}
	if diff := cmp.Diff([]Peak{{150, 5}, {250, 7}}, p); diff != "" {
		t.Errorf("ReadScan(1) mismatch (-want +got):\n%s", diff)
	}
	// 32 bits
	p, err = f.ReadScan(2)
	if err != nil {
		t.Fatalf("ReadScan: error return %v", err)
	}
	if math.Abs(p[0].Mz-400.5) > 1e-4 || p[1].Intens != 2.5 {
		t.Errorf("ReadScan(2): %+v", p)
	}
	if _, err = f.ReadScan(3); err != ErrInvalidScanIndex {
		t.Errorf("ReadScan: error return %v, should be ErrInvalidScanIndex", err)
	}
}

func TestSpectrumProperties(t *testing.T) {
	f := readTestFile(t, testSpecs)
	msLevel, err := f.MSLevel(1)
	if err != nil || msLevel != 2 {
		t.Errorf("MSLevel(1): %d, %v, should be 2", msLevel, err)
	}
	centroid, err := f.Centroid(0)
	if err != nil || centroid {
		t.Errorf("Centroid(0): %v, %v, should be false", centroid, err)
	}
	centroid, _ = f.Centroid(1)
	if !centroid {
		t.Errorf("Centroid(1): false, should be true")
	}
	rt, err := f.RetentionTime(0)
	if err != nil || rt != 30 {
		t.Errorf("RetentionTime(0): %f, %v, should be 30 seconds", rt, err)
	}
	rt, _ = f.RetentionTime(1)
	if rt != 31.5 {
		t.Errorf("RetentionTime(1): %f, should be 31.5", rt)
	}
	scanIndex, err := f.ScanIndex("scan=3")
	if err != nil || scanIndex != 2 {
		t.Errorf("ScanIndex: %d, %v, should be 2", scanIndex, err)
	}
	if _, err = f.ScanIndex("scan=4"); err != ErrInvalidScanID {
		t.Errorf("ScanIndex: error return %v, should be ErrInvalidScanID", err)
	}
	id, err := f.ScanID(1)
	if err != nil || id != "scan=2" {
		t.Errorf("ScanID: %s, %v, should be scan=2", id, err)
	}
}

func TestMissingRetentionTime(t *testing.T) {
	f := readTestFile(t, []testSpec{{id: "s", msLevel: 1, mz: []float64{1}, ints: []float64{1}}})
	if _, err := f.RetentionTime(0); err != ErrNoRetentionTime {
		t.Errorf("RetentionTime: error return %v, should be ErrNoRetentionTime", err)
	}
	if _, err := f.MS1RetentionTimes(); !errors.Is(err, ErrNoRetentionTime) {
		t.Errorf("MS1RetentionTimes: error return %v, should wrap ErrNoRetentionTime", err)
	}
}

func TestNumpressRejected(t *testing.T) {
	s := buildMzML(t, testSpecs[:1])
	s = strings.Replace(s, "MS:1000576", "MS:1002312", 1)
	f, err := Read(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadScan(0); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("ReadScan: error return %v, should wrap ErrUnsupportedCompression", err)
	}
}

func TestSource(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "test.mzML")
	if err := os.WriteFile(fn, []byte(buildMzML(t, testSpecs)), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := ReadFile(fn)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	rts, err := f.MS1RetentionTimes()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{30, 60}, rts); diff != "" {
		t.Errorf("MS1RetentionTimes mismatch (-want +got):\n%s", diff)
	}

	src := NewSource(f, 1, 10)
	if src.NumSpectra() != 2 {
		t.Fatalf("NumSpectra: %d, should be 2", src.NumSpectra())
	}
	level, _ := src.MSLevel(0)
	if level != 2 {
		t.Errorf("MSLevel(0): %d, should be 2", level)
	}
	ints, err := src.Intensities(0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{5, 7}, ints); diff != "" {
		t.Errorf("Intensities mismatch (-want +got):\n%s", diff)
	}
	if NewSource(f, 2, 1).NumSpectra() != 0 {
		t.Errorf("empty range should have no spectra")
	}
}
