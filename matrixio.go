// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package thunder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/arvados/thunder/eqtl"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// A table is a tab-separated value matrix as read from disk: a header
// row naming the sample columns, then one row per variant / gene /
// covariate with the row ID in the first column. Cells are kept as
// strings so covariate tables can carry categorical labels.
type table struct {
	Name    string
	Samples []string
	RowIDs  []string
	Cells   [][]string
}

func readTable(buf []byte, name string) (*table, error) {
	t := &table{Name: name}
	for lineno, line := range bytes.Split(buf, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		split := strings.Split(string(line), "\t")
		if t.Samples == nil {
			if len(split) < 2 {
				return nil, fmt.Errorf("%s: header row %q has no sample columns", name, line)
			}
			t.Samples = split[1:]
			continue
		}
		if len(split) != len(t.Samples)+1 {
			return nil, fmt.Errorf("%s line %d: have %d fields, want %d", name, lineno+1, len(split), len(t.Samples)+1)
		}
		t.RowIDs = append(t.RowIDs, split[0])
		t.Cells = append(t.Cells, split[1:])
	}
	if t.Samples == nil {
		return nil, fmt.Errorf("%s: empty table", name)
	}
	return t, nil
}

func isNA(s string) bool {
	return s == "" || s == "NA"
}

// numeric converts the table to a float64 matrix, rejecting missing
// values.
func (t *table) numeric() (*eqtl.Matrix, error) {
	vals := make([]float64, 0, len(t.RowIDs)*len(t.Samples))
	for i, row := range t.Cells {
		for j, cell := range row {
			if isNA(cell) {
				return nil, fmt.Errorf("%s row %q: missing value for sample %q", t.Name, t.RowIDs[i], t.Samples[j])
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %q: cannot parse %q for sample %q", t.Name, t.RowIDs[i], cell, t.Samples[j])
			}
			vals = append(vals, v)
		}
	}
	return eqtl.NewMatrix(t.Name, t.RowIDs, t.Samples, vals)
}

// numericNA is like numeric but stores NaN for missing cells, leaving
// the missing-data policy to the caller.
func (t *table) numericNA() (*eqtl.Matrix, error) {
	vals := make([]float64, 0, len(t.RowIDs)*len(t.Samples))
	for i, row := range t.Cells {
		for j, cell := range row {
			if isNA(cell) {
				vals = append(vals, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %q: cannot parse %q for sample %q", t.Name, t.RowIDs[i], cell, t.Samples[j])
			}
			vals = append(vals, v)
		}
	}
	return eqtl.NewMatrix(t.Name, t.RowIDs, t.Samples, vals)
}

// imputeDosages checks that all dosage values are in [0,2] and
// resolves missing (NaN) calls, either by imputing the mean of the
// row's non-missing calls or, with impute=false, by returning an
// error naming the first missing call. Returns the number of imputed
// calls.
func imputeDosages(m *eqtl.Matrix, impute bool) (int, error) {
	imputed := 0
	for i, id := range m.RowIDs {
		row := m.Row(i)
		var miss []int
		sum, n := 0.0, 0
		for j, v := range row {
			if math.IsNaN(v) {
				miss = append(miss, j)
				continue
			}
			if v < 0 || v > 2 {
				return 0, fmt.Errorf("%s row %q: dosage %v for sample %q out of range", m.Name, id, v, m.Samples[j])
			}
			sum += v
			n++
		}
		if len(miss) == 0 {
			continue
		}
		if !impute {
			return 0, fmt.Errorf("%s row %q: missing dosage for sample %q", m.Name, id, m.Samples[miss[0]])
		}
		if n == 0 {
			return 0, fmt.Errorf("%s row %q: no dosage calls", m.Name, id)
		}
		mean := sum / float64(n)
		for _, j := range miss {
			row[j] = mean
		}
		imputed += len(miss)
	}
	return imputed, nil
}

// loadTable reads a TSV matrix file (possibly gzipped, possibly in
// Keep).
func loadTable(fnm, name string) (*table, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return readTable(buf, name)
}

// loadMatrix reads a numeric matrix from a TSV or npy file, chosen by
// filename suffix.
func loadMatrix(fnm, name string) (*eqtl.Matrix, error) {
	if strings.HasSuffix(fnm, ".npy") {
		return readMatrixNpy(fnm, name)
	}
	t, err := loadTable(fnm, name)
	if err != nil {
		return nil, err
	}
	return t.numeric()
}

// readMatrixNpy reads an npy matrix plus its labels sidecar (same
// path with ".npy" replaced by ".labels": line 1 = comma-separated
// sample IDs, following lines = row IDs).
func readMatrixNpy(fnm, name string) (*eqtl.Matrix, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npr, err := gonpy.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(npr.Shape) != 2 {
		return nil, fmt.Errorf("%s: have %d-dimensional array, want 2", fnm, len(npr.Shape))
	}
	rows, cols := npr.Shape[0], npr.Shape[1]
	data, err := npr.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if npr.ColumnMajor {
		rm := make([]float64, len(data))
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				rm[i*cols+j] = data[j*rows+i]
			}
		}
		data = rm
	}
	labelfnm := strings.TrimSuffix(fnm, ".npy") + ".labels"
	rowIDs, samples, err := readNpyLabels(labelfnm, rows, cols)
	if err != nil {
		return nil, err
	}
	return eqtl.NewMatrix(name, rowIDs, samples, data)
}

func readNpyLabels(fnm string, wantRows, wantCols int) (rowIDs, samples []string, err error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		if samples == nil {
			samples = strings.Split(string(line), ",")
			continue
		}
		rowIDs = append(rowIDs, string(line))
	}
	if len(samples) != wantCols {
		return nil, nil, fmt.Errorf("%s: have %d sample labels, want %d columns", fnm, len(samples), wantCols)
	}
	if len(rowIDs) != wantRows {
		return nil, nil, fmt.Errorf("%s: have %d row labels, want %d rows", fnm, len(rowIDs), wantRows)
	}
	return rowIDs, samples, nil
}

// readVariantPositions parses a TSV of (id, chrom, pos) rows. A
// header row is tolerated if its position column is not a number.
func readVariantPositions(buf []byte) (map[string]eqtl.Pos, error) {
	pos := map[string]eqtl.Pos{}
	for lineno, line := range bytes.Split(buf, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		split := strings.Split(string(line), "\t")
		if len(split) != 3 {
			return nil, fmt.Errorf("variant positions line %d: have %d fields, want 3", lineno+1, len(split))
		}
		p, err := strconv.Atoi(split[2])
		if err != nil {
			if lineno == 0 {
				continue
			}
			return nil, fmt.Errorf("variant positions line %d: cannot parse position %q", lineno+1, split[2])
		}
		if _, ok := pos[split[0]]; ok {
			return nil, fmt.Errorf("variant positions: duplicate id %q", split[0])
		}
		pos[split[0]] = eqtl.Pos{Chrom: split[1], Pos: p}
	}
	return pos, nil
}

// readGenePositions parses a TSV of (id, chrom, txStart, txEnd) rows,
// with the same header tolerance as readVariantPositions.
func readGenePositions(buf []byte) (map[string]eqtl.Span, error) {
	span := map[string]eqtl.Span{}
	for lineno, line := range bytes.Split(buf, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		split := strings.Split(string(line), "\t")
		if len(split) != 4 {
			return nil, fmt.Errorf("gene positions line %d: have %d fields, want 4", lineno+1, len(split))
		}
		start, err1 := strconv.Atoi(split[2])
		end, err2 := strconv.Atoi(split[3])
		if err1 != nil || err2 != nil {
			if lineno == 0 {
				continue
			}
			return nil, fmt.Errorf("gene positions line %d: cannot parse span %q..%q", lineno+1, split[2], split[3])
		}
		if _, ok := span[split[0]]; ok {
			return nil, fmt.Errorf("gene positions: duplicate id %q", split[0])
		}
		span[split[0]] = eqtl.Span{Chrom: split[1], Start: start, End: end}
	}
	return span, nil
}

func loadPositions(fnm string, parse func([]byte) error) error {
	f, err := zopen(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	return parse(buf)
}

func writeNumpyFloat64(fnm string, out []float64, rows, cols int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	npw.WriteFloat64(out)
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func writeMatrixCSV(fnm string, m *eqtl.Matrix) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	fmt.Fprintf(bufw, "id,%s\n", strings.Join(m.Samples, ","))
	for i, id := range m.RowIDs {
		bufw.WriteString(id)
		for _, v := range m.Row(i) {
			bufw.WriteByte(',')
			bufw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bufw.WriteByte('\n')
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
