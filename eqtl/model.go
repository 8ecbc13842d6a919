// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	ModelLinear = "linear"
	ModelANOVA  = "anova"
)

// residualVector residualizes a copy of row and returns it with its
// sum of squares. It returns nil for a constant row, or one whose
// variation is fully absorbed by the covariates.
func residualVector(rz *Residualizer, row []float64) ([]float64, float64) {
	_, variance := stat.MeanVariance(row, nil)
	if variance == 0 {
		return nil, 0
	}
	res := append([]float64(nil), row...)
	rz.Residualize(res)
	ss := floats.Dot(res, res)
	if ss <= variance*float64(len(row)-1)*rankTolerance*rankTolerance {
		return nil, 0
	}
	return res, ss
}

// genoTerms is the prepared, read-only state of one variant, shared by
// all gene workers. For the linear model res holds the residualized
// dosage; for ANOVA cols holds orthonormal residualized genotype class
// indicators.
type genoTerms struct {
	res  []float64
	ss   float64
	cols [][]float64
}

// prepareGenotype residualizes one dosage row for the given model, or
// returns nil if the row is degenerate and must be excluded from all
// pairs.
func prepareGenotype(model string, rz *Residualizer, row []float64) *genoTerms {
	if model == ModelANOVA {
		n := len(row)
		var counts [3]int
		classes := make([]int, n)
		for i, v := range row {
			c := int(math.Round(v))
			if c < 0 {
				c = 0
			} else if c > 2 {
				c = 2
			}
			classes[i] = c
			counts[c]++
		}
		var cols [][]float64
		baseline := true
		for class := 0; class < 3; class++ {
			if counts[class] == 0 {
				continue
			}
			if baseline {
				baseline = false
				continue
			}
			col := make([]float64, n)
			for i, c := range classes {
				if c == class {
					col[i] = 1
				}
			}
			cols = append(cols, col)
		}
		cols, _ = mgs(rz.basis, cols)
		if len(cols) == 0 || rz.df+1-len(cols) < 1 {
			return nil
		}
		return &genoTerms{cols: cols}
	}
	res, ss := residualVector(rz, row)
	if res == nil {
		return nil
	}
	return &genoTerms{res: res, ss: ss}
}

type pairResult struct {
	beta float64
	stat float64
	p    float64
	df   int
}

// testPair computes the association between a prepared variant and a
// residualized expression vector with sum of squares ess. df is the
// residual degrees of freedom reported by the Residualizer.
func testPair(model string, gt *genoTerms, e []float64, ess float64, df int) pairResult {
	if model == ModelANOVA {
		q := len(gt.cols)
		dfResid := df + 1 - q
		var ssModel float64
		for _, col := range gt.cols {
			d := floats.Dot(col, e)
			ssModel += d * d
		}
		if ssModel > ess {
			ssModel = ess
		}
		f := (ssModel / float64(q)) / ((ess - ssModel) / float64(dfResid))
		p := distuv.F{D1: float64(q), D2: float64(dfResid)}.Survival(f)
		return pairResult{beta: math.NaN(), stat: f, p: p, df: dfResid}
	}
	dot := floats.Dot(gt.res, e)
	r := dot / math.Sqrt(gt.ss*ess)
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	t := r * math.Sqrt(float64(df)/(1-r*r))
	p := 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}.CDF(-math.Abs(t))
	return pairResult{beta: dot / gt.ss, stat: t, p: p, df: df}
}
