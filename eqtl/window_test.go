// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"math/rand"

	"gopkg.in/check.v1"
)

type windowSuite struct{}

var _ = check.Suite(&windowSuite{})

func (s *windowSuite) TestWindowEdges(c *check.C) {
	variants := []Pos{
		{"chr1", 98999},
		{"chr1", 99000},
		{"chr1", 200000},
		{"chr1", 301000},
		{"chr1", 301001},
		{"chr2", 200000},
	}
	spans := []Span{{"chr1", 100000, 300000}}
	pt, err := NewPartitioner(variants, spans, 1000)
	c.Assert(err, check.IsNil)

	c.Check(pt.Stream(variants[0], 0), check.Equals, StreamTrans)
	c.Check(pt.Stream(variants[1], 0), check.Equals, StreamCis)
	c.Check(pt.Stream(variants[2], 0), check.Equals, StreamCis)
	c.Check(pt.Stream(variants[3], 0), check.Equals, StreamCis)
	c.Check(pt.Stream(variants[4], 0), check.Equals, StreamTrans)
	c.Check(pt.Stream(variants[5], 0), check.Equals, StreamTrans)

	c.Check(pt.CisVariants(0), check.DeepEquals, []int{1, 2, 3})
}

func (s *windowSuite) TestDistance(c *check.C) {
	spans := []Span{{"chr1", 100000, 300000}}
	pt, err := NewPartitioner(nil, spans, 1000000)
	c.Assert(err, check.IsNil)

	c.Check(pt.Distance(Pos{"chr1", 99000}, 0, DistanceTSS), check.Equals, -1000)
	c.Check(pt.Distance(Pos{"chr1", 100000}, 0, DistanceTSS), check.Equals, 0)
	c.Check(pt.Distance(Pos{"chr1", 301000}, 0, DistanceTSS), check.Equals, 201000)

	c.Check(pt.Distance(Pos{"chr1", 99000}, 0, DistanceSpan), check.Equals, -1000)
	c.Check(pt.Distance(Pos{"chr1", 200000}, 0, DistanceSpan), check.Equals, 0)
	c.Check(pt.Distance(Pos{"chr1", 301000}, 0, DistanceSpan), check.Equals, 1000)
}

func (s *windowSuite) TestReversedSpan(c *check.C) {
	_, err := NewPartitioner(nil, []Span{{"chr1", 300, 100}}, 0)
	c.Check(err, check.ErrorMatches, `gene 0: transcript span 300\.\.100 is reversed`)
}

func (s *windowSuite) TestNegativeFlank(c *check.C) {
	_, err := NewPartitioner(nil, nil, -1)
	c.Check(err, check.ErrorMatches, `negative cis flank -1`)
}

// The interval index and the direct label check must agree on every
// pair.
func (s *windowSuite) TestTreeAgreesWithDirectLabels(c *check.C) {
	rnd := rand.New(rand.NewSource(7))
	chroms := []string{"chr1", "chr2", "chr3"}
	var variants []Pos
	for i := 0; i < 500; i++ {
		variants = append(variants, Pos{chroms[rnd.Intn(len(chroms))], rnd.Intn(2000000)})
	}
	var spans []Span
	for i := 0; i < 40; i++ {
		start := rnd.Intn(1900000)
		spans = append(spans, Span{chroms[rnd.Intn(len(chroms))], start, start + rnd.Intn(100000)})
	}
	pt, err := NewPartitioner(variants, spans, 50000)
	c.Assert(err, check.IsNil)

	for gi := range spans {
		direct := map[int]bool{}
		for vi, v := range variants {
			if pt.Cis(v, gi) {
				direct[vi] = true
			}
		}
		fromTree := pt.CisVariants(gi)
		c.Assert(len(fromTree), check.Equals, len(direct), check.Commentf("gene %d", gi))
		for _, vi := range fromTree {
			c.Check(direct[vi], check.Equals, true, check.Commentf("gene %d variant %d", gi, vi))
		}
		for i := 1; i < len(fromTree); i++ {
			c.Check(fromTree[i] > fromTree[i-1], check.Equals, true)
		}
	}
}
