// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"sort"
)

// Assoc is one retained variant/gene association.
type Assoc struct {
	Variant string
	Gene    string
	Beta    float64 // NaN under the ANOVA model
	Stat    float64
	DF      int
	P       float64
	FDR     float64
	Dist    int // cis stream only
	Stream  string

	vi, gi int
}

// StreamResult holds one stream's retained records, ordered by
// ascending p-value, plus its complete test distribution.
type StreamResult struct {
	Stream    string
	Threshold float64
	Assocs    []Assoc
	Tested    int64
	Pi0       float64
	dist      *pvalDist
}

// Significant counts records at or under the given FDR cutoff.
func (sr *StreamResult) Significant(cutoff float64) int {
	n := 0
	for _, a := range sr.Assocs {
		if a.FDR <= cutoff {
			n++
		}
	}
	return n
}

// EGenes counts genes with at least one record at or under the given
// FDR cutoff.
func (sr *StreamResult) EGenes(cutoff float64) int {
	genes := map[int]bool{}
	for _, a := range sr.Assocs {
		if a.FDR <= cutoff {
			genes[a.gi] = true
		}
	}
	return len(genes)
}

// QQ returns up to the requested number of (expected, observed)
// quantile pairs downsampled from the stream's complete p-value
// distribution.
func (sr *StreamResult) QQ(points int) (expected, observed []float64) {
	if sr.Tested == 0 || points <= 0 {
		return nil, nil
	}
	if int64(points) > sr.Tested {
		points = int(sr.Tested)
	}
	expected = make([]float64, points)
	observed = make([]float64, points)
	for k := 0; k < points; k++ {
		q := (float64(k) + 0.5) / float64(points)
		expected[k] = q
		observed[k] = sr.dist.quantile(q)
	}
	return expected, observed
}

// Result is the outcome of one analysis run.
type Result struct {
	Cis             *StreamResult
	Trans           *StreamResult
	Model           string
	DF              int
	SkippedVariants int64
	SkippedGenes    int64
}

func sortAssocs(aa []Assoc) {
	sort.Slice(aa, func(i, j int) bool {
		if aa[i].P != aa[j].P {
			return aa[i].P < aa[j].P
		}
		if aa[i].gi != aa[j].gi {
			return aa[i].gi < aa[j].gi
		}
		return aa[i].vi < aa[j].vi
	})
}
