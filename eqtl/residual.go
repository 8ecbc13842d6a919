// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

const rankTolerance = 1e-8

// mgs extends the given orthonormal basis with the given columns using
// modified Gram-Schmidt with one reorthogonalization pass. It returns
// the new orthonormal columns (not including basis) and the indexes of
// columns that were dropped as collinear.
func mgs(basis [][]float64, cols [][]float64) (kept [][]float64, dropped []int) {
	for i, col := range cols {
		norm0 := floats.Norm(col, 2)
		for pass := 0; pass < 2; pass++ {
			for _, b := range basis {
				floats.AddScaled(col, -floats.Dot(b, col), b)
			}
			for _, b := range kept {
				floats.AddScaled(col, -floats.Dot(b, col), b)
			}
		}
		norm1 := floats.Norm(col, 2)
		if norm0 == 0 || norm1 <= norm0*rankTolerance {
			dropped = append(dropped, i)
			continue
		}
		floats.Scale(1/norm1, col)
		kept = append(kept, col)
	}
	return kept, dropped
}

// Residualizer removes the contribution of an intercept and an
// optional covariate matrix from sample vectors. It is built once per
// analysis and is safe for concurrent use afterwards.
type Residualizer struct {
	n     int
	basis [][]float64
	df    int
}

// NewResidualizer orthonormalizes [intercept | covariate rows] for n
// samples. Collinear covariate rows are dropped with a warning. The
// returned degrees of freedom already reserve one term for the
// genotype regressor.
func NewResidualizer(n int, cov *Matrix) (*Residualizer, error) {
	if n < 1 {
		return nil, fmt.Errorf("no samples")
	}
	if cov != nil && len(cov.Samples) != n {
		return nil, fmt.Errorf("%s: have %d samples, want %d", cov.Name, len(cov.Samples), n)
	}
	cols := make([][]float64, 1)
	cols[0] = make([]float64, n)
	for i := range cols[0] {
		cols[0][i] = 1
	}
	if cov != nil {
		for r := 0; r < cov.Rows(); r++ {
			cols = append(cols, append([]float64(nil), cov.Row(r)...))
		}
	}
	basis, droppedIdx := mgs(nil, cols)
	for _, i := range droppedIdx {
		log.Warnf("%s row %q: collinear with earlier covariates, dropped from the model", cov.Name, cov.RowIDs[i-1])
	}
	rz := &Residualizer{n: n, basis: basis, df: n - len(basis) - 1}
	if rz.df < 1 {
		return nil, fmt.Errorf("%d samples leave df=%d after intercept and %d covariate terms", n, rz.df, len(basis)-1)
	}
	return rz, nil
}

// Residualize subtracts v's projection onto the covariate basis, in
// place.
func (rz *Residualizer) Residualize(v []float64) {
	for _, b := range rz.basis {
		floats.AddScaled(v, -floats.Dot(b, v), b)
	}
}

// Rank is the number of basis terms, counting the intercept.
func (rz *Residualizer) Rank() int { return len(rz.basis) }

// DF is the residual degrees of freedom of the per-pair linear model.
func (rz *Residualizer) DF() int { return rz.df }
