// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/check.v1"
)

type residualSuite struct{}

var _ = check.Suite(&residualSuite{})

func (s *residualSuite) TestOrthogonality(c *check.C) {
	rnd := rand.New(rand.NewSource(1))
	n := 50
	cov, err := NewMatrix("covariates", []string{"c1", "c2", "c3"}, sampleIDs(n), randSlice(rnd, 3*n))
	c.Assert(err, check.IsNil)
	rz, err := NewResidualizer(n, cov)
	c.Assert(err, check.IsNil)
	c.Check(rz.Rank(), check.Equals, 4)
	c.Check(rz.DF(), check.Equals, n-3-2)

	v := randSlice(rnd, n)
	rz.Residualize(v)
	var sum float64
	for _, x := range v {
		sum += x
	}
	c.Check(math.Abs(sum) < 1e-9, check.Equals, true)
	for r := 0; r < cov.Rows(); r++ {
		c.Check(math.Abs(floats.Dot(v, cov.Row(r))) < 1e-8, check.Equals, true)
	}
}

func (s *residualSuite) TestResidualizeIdempotent(c *check.C) {
	rnd := rand.New(rand.NewSource(2))
	n := 30
	cov, err := NewMatrix("covariates", []string{"c1"}, sampleIDs(n), randSlice(rnd, n))
	c.Assert(err, check.IsNil)
	rz, err := NewResidualizer(n, cov)
	c.Assert(err, check.IsNil)

	v := randSlice(rnd, n)
	rz.Residualize(v)
	again := append([]float64(nil), v...)
	rz.Residualize(again)
	for i := range v {
		c.Check(math.Abs(again[i]-v[i]) < 1e-12, check.Equals, true)
	}
}

func (s *residualSuite) TestCollinearCovariateDropped(c *check.C) {
	n := 20
	base := make([]float64, n)
	doubled := make([]float64, n)
	for i := range base {
		base[i] = float64(i % 5)
		doubled[i] = 2 * base[i]
	}
	cov, err := NewMatrix("covariates", []string{"c1", "c1x2"}, sampleIDs(n), append(append([]float64(nil), base...), doubled...))
	c.Assert(err, check.IsNil)
	rz, err := NewResidualizer(n, cov)
	c.Assert(err, check.IsNil)
	c.Check(rz.Rank(), check.Equals, 2)
	c.Check(rz.DF(), check.Equals, n-1-2)
}

func (s *residualSuite) TestInsufficientSamples(c *check.C) {
	n := 4
	rnd := rand.New(rand.NewSource(3))
	cov, err := NewMatrix("covariates", []string{"c1", "c2"}, sampleIDs(n), randSlice(rnd, 2*n))
	c.Assert(err, check.IsNil)
	_, err = NewResidualizer(n, cov)
	c.Check(err, check.ErrorMatches, `4 samples leave df=0 after intercept and 2 covariate terms`)
}

func (s *residualSuite) TestNoCovariates(c *check.C) {
	rz, err := NewResidualizer(6, nil)
	c.Assert(err, check.IsNil)
	c.Check(rz.Rank(), check.Equals, 1)
	c.Check(rz.DF(), check.Equals, 4)

	// residualizing against the intercept alone just centers
	v := []float64{1, 2, 3, 4, 5, 9}
	rz.Residualize(v)
	mean := (1.0 + 2 + 3 + 4 + 5 + 9) / 6
	for i, x := range []float64{1, 2, 3, 4, 5, 9} {
		c.Check(math.Abs(v[i]-(x-mean)) < 1e-12, check.Equals, true)
	}
}
