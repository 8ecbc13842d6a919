// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"math"

	"gopkg.in/check.v1"
)

type matrixSuite struct{}

var _ = check.Suite(&matrixSuite{})

func (s *matrixSuite) TestNewMatrix(c *check.C) {
	m, err := NewMatrix("genotype", []string{"v1", "v2"}, []string{"s1", "s2", "s3"}, []float64{0, 1, 2, 2, 1, 0})
	c.Assert(err, check.IsNil)
	c.Check(m.Rows(), check.Equals, 2)
	c.Check(m.Cols(), check.Equals, 3)
	c.Check(m.Row(1), check.DeepEquals, []float64{2, 1, 0})

	_, err = NewMatrix("genotype", []string{"v1"}, []string{"s1", "s2"}, []float64{1})
	c.Check(err, check.ErrorMatches, `genotype: have 1 values, want 1 rows x 2 samples = 2`)

	_, err = NewMatrix("genotype", []string{"v1"}, []string{"s1", "s1"}, []float64{1, 2})
	c.Check(err, check.ErrorMatches, `genotype: duplicate sample "s1"`)
}

func (s *matrixSuite) TestCheckFinite(c *check.C) {
	m, err := NewMatrix("expression", []string{"g1", "g2"}, []string{"s1", "s2"}, []float64{1, 2, 3, 4})
	c.Assert(err, check.IsNil)
	c.Check(m.CheckFinite(), check.IsNil)

	m.Values[2] = math.NaN()
	c.Check(m.CheckFinite(), check.ErrorMatches, `expression row "g2": non-finite value NaN for sample "s1"`)

	m.Values[2] = math.Inf(-1)
	c.Check(m.CheckFinite(), check.ErrorMatches, `expression row "g2": non-finite value -Inf for sample "s1"`)
}

func (s *matrixSuite) TestSelectSamples(c *check.C) {
	m, err := NewMatrix("genotype", []string{"v1", "v2"}, []string{"s1", "s2", "s3"}, []float64{
		0, 1, 2,
		2, 1, 0,
	})
	c.Assert(err, check.IsNil)
	sel, err := m.SelectSamples([]string{"s3", "s1"})
	c.Assert(err, check.IsNil)
	c.Check(sel.Samples, check.DeepEquals, []string{"s3", "s1"})
	c.Check(sel.Values, check.DeepEquals, []float64{2, 0, 0, 2})
	// original untouched
	c.Check(m.Values, check.DeepEquals, []float64{0, 1, 2, 2, 1, 0})

	_, err = m.SelectSamples([]string{"s1", "s9"})
	c.Check(err, check.ErrorMatches, `genotype: sample "s9" not present`)
}

func (s *matrixSuite) TestCommonSamples(c *check.C) {
	a, err := NewMatrix("a", []string{"r"}, []string{"s1", "s2", "s3", "s4"}, make([]float64, 4))
	c.Assert(err, check.IsNil)
	b, err := NewMatrix("b", []string{"r"}, []string{"s4", "s2", "s1"}, make([]float64, 3))
	c.Assert(err, check.IsNil)
	c.Check(CommonSamples(a, b), check.DeepEquals, []string{"s1", "s2", "s4"})
	c.Check(CommonSamples(b, a), check.DeepEquals, []string{"s4", "s2", "s1"})
}

func (s *matrixSuite) TestCheckAligned(c *check.C) {
	a, err := NewMatrix("genotype", []string{"r"}, []string{"s1", "s2"}, make([]float64, 2))
	c.Assert(err, check.IsNil)
	b, err := NewMatrix("expression", []string{"r"}, []string{"s2", "s1"}, make([]float64, 2))
	c.Assert(err, check.IsNil)
	short, err := NewMatrix("covariates", []string{"r"}, []string{"s1"}, make([]float64, 1))
	c.Assert(err, check.IsNil)

	c.Check(checkAligned(a, a, nil), check.IsNil)
	c.Check(checkAligned(a, b), check.ErrorMatches, `sample alignment: column 0 is "s1" in genotype but "s2" in expression`)
	c.Check(checkAligned(a, short), check.ErrorMatches, `sample alignment: genotype has 2 samples, covariates has 1`)
}

func (s *matrixSuite) TestEncodeCovariates(c *check.C) {
	samples := []string{"s1", "s2", "s3", "s4"}
	m, err := EncodeCovariates("covariates", []string{"age", "sex", "site"}, samples, [][]string{
		{"31.5", "44", "58", "25"},
		{"male", "female", "female", "male"},
		{"b", "a", "c", "a"},
	})
	c.Assert(err, check.IsNil)
	c.Check(m.RowIDs, check.DeepEquals, []string{"age", "sex=male", "site=b", "site=c"})
	c.Check(m.Row(0), check.DeepEquals, []float64{31.5, 44, 58, 25})
	c.Check(m.Row(1), check.DeepEquals, []float64{1, 0, 0, 1})
	c.Check(m.Row(2), check.DeepEquals, []float64{1, 0, 0, 0})
	c.Check(m.Row(3), check.DeepEquals, []float64{0, 0, 1, 0})

	_, err = EncodeCovariates("covariates", []string{"age"}, samples, [][]string{
		{"31.5", "NA", "58", "25"},
	})
	c.Check(err, check.ErrorMatches, `covariates row "age": missing value for sample "s2"`)

	_, err = EncodeCovariates("covariates", []string{"site"}, samples, [][]string{
		{"a", "b", "2", "a"},
	})
	c.Check(err, check.ErrorMatches, `covariates row "site": mixes numbers with labels \(sample "s3" has "2"\)`)

	_, err = EncodeCovariates("covariates", []string{"age"}, samples, [][]string{
		{"31.5", "44"},
	})
	c.Check(err, check.ErrorMatches, `covariates row "age": have 2 values, want 4`)
}
