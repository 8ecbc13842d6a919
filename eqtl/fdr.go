// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"fmt"
	"math"
	"sort"
)

const (
	FDRBenjaminiHochberg = "bh"
	FDRQValue            = "qvalue"
)

const qvalueLambda = 0.5

// pvalDist accumulates a stream's complete p-value distribution,
// including tests whose records fall outside the reporting threshold.
// With bins == 0 every value is kept and corrections are exact;
// otherwise a fixed-width histogram bounds memory and corrections are
// resolved at bin granularity.
type pvalDist struct {
	bins  []int64
	exact []float64
	n     int64
}

func newPvalDist(bins int) *pvalDist {
	pd := &pvalDist{}
	if bins > 0 {
		pd.bins = make([]int64, bins)
	}
	return pd
}

func (pd *pvalDist) binOf(p float64) int {
	b := int(p * float64(len(pd.bins)))
	if b >= len(pd.bins) {
		b = len(pd.bins) - 1
	} else if b < 0 {
		b = 0
	}
	return b
}

func (pd *pvalDist) add(p float64) {
	pd.n++
	if pd.bins != nil {
		pd.bins[pd.binOf(p)]++
		return
	}
	pd.exact = append(pd.exact, p)
}

func (pd *pvalDist) merge(other *pvalDist) {
	pd.n += other.n
	if pd.bins != nil {
		for i, c := range other.bins {
			pd.bins[i] += c
		}
		return
	}
	pd.exact = append(pd.exact, other.exact...)
}

func (pd *pvalDist) finalize() {
	sort.Float64s(pd.exact)
}

// quantile returns the value at fraction q of the finalized
// distribution. Histogram mode resolves to bin midpoints.
func (pd *pvalDist) quantile(q float64) float64 {
	if pd.n == 0 {
		return math.NaN()
	}
	if pd.bins != nil {
		target := int64(q * float64(pd.n-1))
		var run int64
		for b, c := range pd.bins {
			run += c
			if run > target {
				return (float64(b) + 0.5) / float64(len(pd.bins))
			}
		}
		return 1
	}
	i := int(q * float64(len(pd.exact)-1))
	if i < 0 {
		i = 0
	} else if i >= len(pd.exact) {
		i = len(pd.exact) - 1
	}
	return pd.exact[i]
}

// fdrCalc resolves adjusted significance for retained records after
// the full distribution is known. Benjamini-Hochberg step-up values
// are computed over the whole distribution; the q-value method scales
// them by the Storey null-fraction estimate at lambda = 0.5, floored
// at the raw p-value.
type fdrCalc struct {
	method string
	pi0    float64
	dist   *pvalDist
	adj    []float64
}

func newFDRCalc(pd *pvalDist, method string) (*fdrCalc, error) {
	if method != FDRBenjaminiHochberg && method != FDRQValue {
		return nil, fmt.Errorf("unknown FDR method %q", method)
	}
	fc := &fdrCalc{method: method, pi0: 1, dist: pd}
	n := float64(pd.n)
	minAdj := 1.0
	if pd.bins != nil {
		fc.adj = make([]float64, len(pd.bins))
		cum := make([]int64, len(pd.bins))
		var run int64
		for b, c := range pd.bins {
			run += c
			cum[b] = run
		}
		for b := len(pd.bins) - 1; b >= 0; b-- {
			if cum[b] > 0 {
				a := float64(b+1) / float64(len(pd.bins)) * n / float64(cum[b])
				if a < minAdj {
					minAdj = a
				}
			}
			fc.adj[b] = minAdj
		}
	} else {
		fc.adj = make([]float64, len(pd.exact))
		for i := len(pd.exact) - 1; i >= 0; i-- {
			a := pd.exact[i] * n / float64(i+1)
			if a < minAdj {
				minAdj = a
			}
			fc.adj[i] = minAdj
		}
	}
	if method == FDRQValue && pd.n > 0 {
		var above int64
		if pd.bins != nil {
			for b := pd.binOf(qvalueLambda); b < len(pd.bins); b++ {
				above += pd.bins[b]
			}
		} else {
			above = int64(len(pd.exact) - sort.SearchFloat64s(pd.exact, math.Nextafter(qvalueLambda, 2)))
		}
		pi0 := float64(above) / ((1 - qvalueLambda) * n)
		if pi0 > 1 {
			pi0 = 1
		} else if pi0 < 1/n {
			pi0 = 1 / n
		}
		fc.pi0 = pi0
	}
	return fc, nil
}

// fdr returns the adjusted value for a raw p-value present in the
// distribution.
func (fc *fdrCalc) fdr(p float64) float64 {
	var a float64
	if fc.dist.bins != nil {
		a = fc.adj[fc.dist.binOf(p)]
	} else {
		i := sort.SearchFloat64s(fc.dist.exact, p)
		if i >= len(fc.adj) {
			i = len(fc.adj) - 1
		}
		a = fc.adj[i]
	}
	if fc.method == FDRQValue {
		a *= fc.pi0
		if a < p {
			a = p
		}
	}
	if a > 1 {
		a = 1
	}
	return a
}
