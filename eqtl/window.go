// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"fmt"
	"sort"

	"github.com/biogo/store/interval"
)

const (
	StreamCis   = "cis"
	StreamTrans = "trans"
)

const (
	DistanceTSS  = "tss"
	DistanceSpan = "span"
)

// Pos is a variant's genomic position.
type Pos struct {
	Chrom string
	Pos   int
}

// Span is a gene's transcript span, inclusive on both ends. The cis
// window extends it by the configured flank on both sides.
type Span struct {
	Chrom string
	Start int
	End   int
}

type posInterval struct {
	start, end int
	id         uintptr
	variant    int
}

func (iv posInterval) Overlap(b interval.IntRange) bool {
	return iv.end > b.Start && iv.start < b.End
}

func (iv posInterval) ID() uintptr { return iv.id }

func (iv posInterval) Range() interval.IntRange {
	return interval.IntRange{Start: iv.start, End: iv.end}
}

// Partitioner labels variant/gene pairs cis or trans. It indexes the
// variant positions in one interval tree per chromosome so the cis
// candidates of a gene can be enumerated without scanning all
// variants.
type Partitioner struct {
	flank   int
	spans   []Span
	byChrom map[string]*interval.IntTree
}

func NewPartitioner(variants []Pos, spans []Span, flank int) (*Partitioner, error) {
	if flank < 0 {
		return nil, fmt.Errorf("negative cis flank %d", flank)
	}
	for gi, sp := range spans {
		if sp.Start > sp.End {
			return nil, fmt.Errorf("gene %d: transcript span %d..%d is reversed", gi, sp.Start, sp.End)
		}
	}
	pt := &Partitioner{flank: flank, spans: spans, byChrom: map[string]*interval.IntTree{}}
	for vi, v := range variants {
		tree := pt.byChrom[v.Chrom]
		if tree == nil {
			tree = &interval.IntTree{}
			pt.byChrom[v.Chrom] = tree
		}
		err := tree.Insert(posInterval{start: v.Pos, end: v.Pos + 1, id: uintptr(vi), variant: vi}, false)
		if err != nil {
			return nil, err
		}
	}
	return pt, nil
}

// Cis reports whether the variant lies within gene gi's cis window.
func (pt *Partitioner) Cis(v Pos, gi int) bool {
	sp := pt.spans[gi]
	return v.Chrom == sp.Chrom && v.Pos >= sp.Start-pt.flank && v.Pos <= sp.End+pt.flank
}

func (pt *Partitioner) Stream(v Pos, gi int) string {
	if pt.Cis(v, gi) {
		return StreamCis
	}
	return StreamTrans
}

// CisVariants returns the ascending indexes of the variants inside
// gene gi's cis window.
func (pt *Partitioner) CisVariants(gi int) []int {
	sp := pt.spans[gi]
	tree := pt.byChrom[sp.Chrom]
	if tree == nil {
		return nil
	}
	query := posInterval{start: sp.Start - pt.flank, end: sp.End + pt.flank + 1}
	var out []int
	for _, iv := range tree.Get(query) {
		out = append(out, iv.(posInterval).variant)
	}
	sort.Ints(out)
	return out
}

// Distance is the signed distance from the variant to gene gi,
// measured from the transcript start (DistanceTSS) or from the nearer
// end of the transcript span (DistanceSpan, zero inside the span).
func (pt *Partitioner) Distance(v Pos, gi int, from string) int {
	sp := pt.spans[gi]
	if from == DistanceSpan {
		switch {
		case v.Pos < sp.Start:
			return v.Pos - sp.Start
		case v.Pos > sp.End:
			return v.Pos - sp.End
		default:
			return 0
		}
	}
	return v.Pos - sp.Start
}
