package main

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testProject = `
name: cli
samples:
  - id: 1
    name: A
    scans: {start: 0, interval: 1, count: 5}
    noise: 2
    traces:
      - {id: 1, start: 0, mz: [200, 200, 200, 200, 200], intensity: [10, 50, 100, 50, 10]}
  - id: 2
    name: B
    scans: {start: 0.5, interval: 1, count: 5}
    noise: 4
    traces:
      - {id: 1, start: 0, mz: [200, 200, 200, 200, 200], intensity: [10, 50, 100, 50, 10]}
mois:
  - id: 1
    sample: 1
    mz: 200
    rt: 2
    observations:
      - {sample: 1, mz: 200, rt: 2, trace: 1}
      - {sample: 2, mz: 200, rt: 2.5, trace: 1}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	prj := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(prj, []byte(testProject), 0644))
	metricsFile := filepath.Join(dir, "metrics.prom")

	out, err := execute(t, "run", "--project", prj, "--in-memory",
		"--out", filepath.Join(dir, "features.db"), "--metrics", metricsFile, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "1 rectangles, 1 segments, 1 features")

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "mzmerge_features_total 1")
	assert.FileExists(t, filepath.Join(dir, "features.db"))
}

func TestRunCommandErrors(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err, "missing --project")

	_, err = execute(t, "run", "--project", filepath.Join(t.TempDir(), "none.yaml"), "--in-memory")
	assert.Error(t, err)

	cfg := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("align:\n  beam_width: 0\n"), 0644))
	_, err = execute(t, "run", "--project", "x.yaml", "--config", cfg)
	assert.ErrorContains(t, err, "beam_width")
}

func b64(v []float64) string {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, v)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func writeMzML(t *testing.T, fn string, spectra [][]float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<mzML xmlns="http://psi.hupo.org/ms/mzml"><run id="r"><spectrumList>`)
	for i, ints := range spectra {
		mz := make([]float64, len(ints))
		for k := range mz {
			mz[k] = 100 + float64(k)
		}
		fmt.Fprintf(&b, `<spectrum index="%d" id="scan=%d" defaultArrayLength="%d">`, i, i+1, len(ints))
		b.WriteString(`<cvParam accession="MS:1000511" value="1"/>`)
		fmt.Fprintf(&b, `<scanList><scan><cvParam accession="MS:1000016" value="%d" unitAccession="UO:0000010"/></scan></scanList>`, i)
		b.WriteString(`<binaryDataArrayList>`)
		fmt.Fprintf(&b, `<binaryDataArray><cvParam accession="MS:1000523"/><cvParam accession="MS:1000514"/><binary>%s</binary></binaryDataArray>`, b64(mz))
		fmt.Fprintf(&b, `<binaryDataArray><cvParam accession="MS:1000523"/><cvParam accession="MS:1000515"/><binary>%s</binary></binaryDataArray>`, b64(ints))
		b.WriteString(`</binaryDataArrayList></spectrum>`)
	}
	b.WriteString(`</spectrumList></run></mzML>`)
	require.NoError(t, os.WriteFile(fn, []byte(b.String()), 0644))
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "s.mzML")
	writeMzML(t, fn, [][]float64{{1, 4}, {2, 8}, {3, 6}, {5, 5}})

	out, err := execute(t, "stats", fn, "--spectra", "1:2")
	require.NoError(t, err)
	var rep statsReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.FirstSpectrum)
	assert.Equal(t, 2, rep.LastSpectrum)
	require.Len(t, rep.NoiseLevelPerScan, 2)
	assert.Equal(t, 6.0, rep.WithinTraces.PPM)

	_, err = execute(t, "stats", fn, "--spectra", "3:1")
	assert.Error(t, err)
}
