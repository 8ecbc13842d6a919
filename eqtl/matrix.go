// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// Matrix is a dense row-major matrix with labeled rows and one column
// per sample.
type Matrix struct {
	Name    string
	RowIDs  []string
	Samples []string
	Values  []float64
}

func NewMatrix(name string, rowIDs, samples []string, values []float64) (*Matrix, error) {
	if len(values) != len(rowIDs)*len(samples) {
		return nil, fmt.Errorf("%s: have %d values, want %d rows x %d samples = %d", name, len(values), len(rowIDs), len(samples), len(rowIDs)*len(samples))
	}
	seen := map[string]bool{}
	for _, id := range samples {
		if seen[id] {
			return nil, fmt.Errorf("%s: duplicate sample %q", name, id)
		}
		seen[id] = true
	}
	return &Matrix{Name: name, RowIDs: rowIDs, Samples: samples, Values: values}, nil
}

func (m *Matrix) Rows() int { return len(m.RowIDs) }

func (m *Matrix) Cols() int { return len(m.Samples) }

// Row returns the values of row i, sharing the matrix's backing array.
func (m *Matrix) Row(i int) []float64 {
	n := len(m.Samples)
	return m.Values[i*n : (i+1)*n]
}

// CheckFinite returns an error identifying the first NaN or infinite
// entry, if any.
func (m *Matrix) CheckFinite() error {
	n := len(m.Samples)
	for i, v := range m.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s row %q: non-finite value %v for sample %q", m.Name, m.RowIDs[i/n], v, m.Samples[i%n])
		}
	}
	return nil
}

// SelectSamples returns a copy of m restricted to the given samples,
// with columns rearranged into the given order. It is the caller's
// explicit reordering step; the association engine itself refuses
// matrices whose sample sequences disagree.
func (m *Matrix) SelectSamples(samples []string) (*Matrix, error) {
	pos := make(map[string]int, len(m.Samples))
	for i, id := range m.Samples {
		pos[id] = i
	}
	perm := make([]int, len(samples))
	for i, id := range samples {
		j, ok := pos[id]
		if !ok {
			return nil, fmt.Errorf("%s: sample %q not present", m.Name, id)
		}
		perm[i] = j
	}
	out := &Matrix{
		Name:    m.Name,
		RowIDs:  m.RowIDs,
		Samples: append([]string(nil), samples...),
		Values:  make([]float64, len(m.RowIDs)*len(samples)),
	}
	for r := range m.RowIDs {
		src := m.Row(r)
		dst := out.Row(r)
		for i, j := range perm {
			dst[i] = src[j]
		}
	}
	return out, nil
}

// CommonSamples returns the samples present in every given matrix, in
// the order of the first one.
func CommonSamples(mm ...*Matrix) []string {
	if len(mm) == 0 {
		return nil
	}
	var common []string
	for _, id := range mm[0].Samples {
		ok := true
		for _, m := range mm[1:] {
			found := false
			for _, other := range m.Samples {
				if other == id {
					found = true
					break
				}
			}
			if !found {
				ok = false
				break
			}
		}
		if ok {
			common = append(common, id)
		}
	}
	return common
}

func checkAligned(ref *Matrix, mm ...*Matrix) error {
	for _, m := range mm {
		if m == nil {
			continue
		}
		if len(m.Samples) != len(ref.Samples) {
			return fmt.Errorf("sample alignment: %s has %d samples, %s has %d", ref.Name, len(ref.Samples), m.Name, len(m.Samples))
		}
		for i, id := range ref.Samples {
			if m.Samples[i] != id {
				return fmt.Errorf("sample alignment: column %d is %q in %s but %q in %s", i, id, ref.Name, m.Samples[i], m.Name)
			}
		}
	}
	return nil
}

func isNA(s string) bool {
	return s == "" || s == "NA"
}

// EncodeCovariates converts a table of raw covariate values into
// numeric rows. A row whose cells all parse as numbers is kept as is.
// Otherwise the row is treated as categorical: its distinct labels are
// sorted, the first is the baseline, and each remaining label becomes
// a 0/1 indicator row named "id=label". Missing values and rows mixing
// numbers with labels are rejected.
func EncodeCovariates(name string, rowIDs, samples []string, cells [][]string) (*Matrix, error) {
	if len(cells) != len(rowIDs) {
		return nil, fmt.Errorf("%s: have %d rows of values, want %d", name, len(cells), len(rowIDs))
	}
	var outIDs []string
	var outValues []float64
	for r, row := range cells {
		if len(row) != len(samples) {
			return nil, fmt.Errorf("%s row %q: have %d values, want %d", name, rowIDs[r], len(row), len(samples))
		}
		numeric := true
		parsed := make([]float64, len(row))
		for c, cell := range row {
			if isNA(cell) {
				return nil, fmt.Errorf("%s row %q: missing value for sample %q", name, rowIDs[r], samples[c])
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				numeric = false
				break
			}
			parsed[c] = v
		}
		if numeric {
			outIDs = append(outIDs, rowIDs[r])
			outValues = append(outValues, parsed...)
			continue
		}
		seen := map[string]bool{}
		var levels []string
		for c, cell := range row {
			if isNA(cell) {
				return nil, fmt.Errorf("%s row %q: missing value for sample %q", name, rowIDs[r], samples[c])
			}
			if _, err := strconv.ParseFloat(cell, 64); err == nil {
				return nil, fmt.Errorf("%s row %q: mixes numbers with labels (sample %q has %q)", name, rowIDs[r], samples[c], cell)
			}
			if !seen[cell] {
				seen[cell] = true
				levels = append(levels, cell)
			}
		}
		sort.Strings(levels)
		for _, level := range levels[1:] {
			outIDs = append(outIDs, rowIDs[r]+"="+level)
			vals := make([]float64, len(row))
			for c, cell := range row {
				if cell == level {
					vals[c] = 1
				}
			}
			outValues = append(outValues, vals...)
		}
		log.Infof("%s row %q: categorical with %d levels, baseline %q", name, rowIDs[r], len(levels), levels[0])
	}
	return NewMatrix(name, outIDs, samples, outValues)
}
