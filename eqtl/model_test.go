// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gopkg.in/check.v1"
)

type modelSuite struct{}

var _ = check.Suite(&modelSuite{})

func (s *modelSuite) TestLinearKnownSlope(c *check.C) {
	rz, err := NewResidualizer(4, nil)
	c.Assert(err, check.IsNil)
	gt := prepareGenotype(ModelLinear, rz, []float64{0, 0, 1, 2})
	c.Assert(gt, check.NotNil)
	e, ess := residualVector(rz, []float64{1.0, 1.1, 5.0, 9.8})
	c.Assert(e, check.NotNil)

	pr := testPair(ModelLinear, gt, e, ess, rz.DF())
	c.Check(pr.beta > 0, check.Equals, true)
	c.Check(fmt.Sprintf("%.4f", pr.beta), check.Equals, "4.3364")
	c.Check(fmt.Sprintf("%.2f", pr.stat), check.Equals, "27.54")
	c.Check(pr.p < 0.05, check.Equals, true)
	c.Check(fmt.Sprintf("%.4f", pr.p), check.Equals, "0.0013")
	c.Check(pr.df, check.Equals, 2)
}

func (s *modelSuite) TestLinearPerfectFit(c *check.C) {
	rz, err := NewResidualizer(6, nil)
	c.Assert(err, check.IsNil)
	gt := prepareGenotype(ModelLinear, rz, []float64{0, 1, 2, 0, 1, 2})
	c.Assert(gt, check.NotNil)
	e, ess := residualVector(rz, []float64{0, 3, 6, 0, 3, 6})
	c.Assert(e, check.NotNil)

	pr := testPair(ModelLinear, gt, e, ess, rz.DF())
	c.Check(fmt.Sprintf("%.6f", pr.beta), check.Equals, "3.000000")
	c.Check(pr.p >= 0, check.Equals, true)
	c.Check(pr.p < 1e-9, check.Equals, true)
}

func (s *modelSuite) TestDegenerateRows(c *check.C) {
	n := 8
	cov, err := NewMatrix("covariates", []string{"c1"}, sampleIDs(n), []float64{0, 1, 2, 0, 1, 2, 0, 1})
	c.Assert(err, check.IsNil)
	rz, err := NewResidualizer(n, cov)
	c.Assert(err, check.IsNil)

	// constant dosage
	c.Check(prepareGenotype(ModelLinear, rz, []float64{2, 2, 2, 2, 2, 2, 2, 2}), check.IsNil)
	// dosage fully explained by the covariate
	c.Check(prepareGenotype(ModelLinear, rz, []float64{0, 1, 2, 0, 1, 2, 0, 1}), check.IsNil)
	// constant expression
	e, ess := residualVector(rz, []float64{7, 7, 7, 7, 7, 7, 7, 7})
	c.Check(e, check.IsNil)
	c.Check(ess, check.Equals, 0.0)
	// single genotype class under ANOVA
	c.Check(prepareGenotype(ModelANOVA, rz, []float64{1, 1, 1, 1, 1, 1, 1, 1}), check.IsNil)
}

func (s *modelSuite) TestANOVATwoClassesMatchesLinear(c *check.C) {
	rnd := rand.New(rand.NewSource(4))
	n := 12
	cov, err := NewMatrix("covariates", []string{"c1"}, sampleIDs(n), randSlice(rnd, n))
	c.Assert(err, check.IsNil)
	rz, err := NewResidualizer(n, cov)
	c.Assert(err, check.IsNil)

	dosage := []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 1, 1, 0}
	expr := randSlice(rnd, n)
	e, ess := residualVector(rz, expr)
	c.Assert(e, check.NotNil)

	lin := testPair(ModelLinear, prepareGenotype(ModelLinear, rz, dosage), e, ess, rz.DF())
	aov := testPair(ModelANOVA, prepareGenotype(ModelANOVA, rz, dosage), e, ess, rz.DF())
	c.Check(math.Abs(aov.stat-lin.stat*lin.stat) < 1e-9*(1+lin.stat*lin.stat), check.Equals, true)
	c.Check(math.Abs(aov.p-lin.p) < 1e-10, check.Equals, true)
	c.Check(aov.df, check.Equals, lin.df)
	c.Check(math.IsNaN(aov.beta), check.Equals, true)
}

func (s *modelSuite) TestANOVAThreeClasses(c *check.C) {
	rz, err := NewResidualizer(9, nil)
	c.Assert(err, check.IsNil)
	dosage := []float64{0, 0, 0, 1, 1, 1, 2, 2, 2}

	gt := prepareGenotype(ModelANOVA, rz, dosage)
	c.Assert(gt, check.NotNil)
	c.Check(len(gt.cols), check.Equals, 2)

	// class means far apart
	e, ess := residualVector(rz, []float64{1, 1.1, 0.9, 5, 5.1, 4.9, 9, 9.1, 8.9})
	pr := testPair(ModelANOVA, gt, e, ess, rz.DF())
	c.Check(pr.p < 1e-4, check.Equals, true)
	c.Check(pr.df, check.Equals, 6)

	// identical class means
	e, ess = residualVector(rz, []float64{5, 2, 9, 5, 2, 9, 5, 2, 9})
	pr = testPair(ModelANOVA, gt, e, ess, rz.DF())
	c.Check(pr.p > 0.999, check.Equals, true)
}

func (s *modelSuite) TestANOVARoundsImputedDosage(c *check.C) {
	rz, err := NewResidualizer(6, nil)
	c.Assert(err, check.IsNil)
	gt := prepareGenotype(ModelANOVA, rz, []float64{0, 0.4, 1.6, 2, 0, 2})
	c.Assert(gt, check.NotNil)
	c.Check(len(gt.cols), check.Equals, 1)
}

var olsConfig = &glm.Config{
	Family:         glm.NewFamily(glm.GaussianFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

// olsFit fits expr ~ intercept + covariates (+ dosage if non-nil) by
// least squares and returns the coefficients in that order.
func olsFit(c *check.C, expr, dosage []float64, cov *Matrix) []float64 {
	data := [][]statmodel.Dtype{toDtype(expr), constantSeries(len(expr))}
	names := []string{"expr", "icept"}
	for r := 0; r < cov.Rows(); r++ {
		data = append(data, toDtype(cov.Row(r)))
		names = append(names, cov.RowIDs[r])
	}
	if dosage != nil {
		data = append(data, toDtype(dosage))
		names = append(names, "dosage")
	}
	dataset := statmodel.NewDataset(data, names)
	model, err := glm.NewGLM(dataset, "expr", names[1:], olsConfig)
	c.Assert(err, check.IsNil)
	return model.Fit().Params()
}

func toDtype(v []float64) []statmodel.Dtype {
	out := make([]statmodel.Dtype, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func constantSeries(n int) []statmodel.Dtype {
	out := make([]statmodel.Dtype, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func rss(expr []float64, params []float64, cols ...[]float64) float64 {
	var total float64
	for i, y := range expr {
		fitted := params[0]
		for j, col := range cols {
			fitted += params[j+1] * col[i]
		}
		d := y - fitted
		total += d * d
	}
	return total
}

// The residualization shortcut must agree with refitting the full
// regression for every pair.
func (s *modelSuite) TestLinearMatchesFullRegression(c *check.C) {
	rnd := rand.New(rand.NewSource(5))
	n := 60
	cov, err := NewMatrix("covariates", []string{"c1", "c2"}, sampleIDs(n), randSlice(rnd, 2*n))
	c.Assert(err, check.IsNil)
	rz, err := NewResidualizer(n, cov)
	c.Assert(err, check.IsNil)

	dosage := make([]float64, n)
	expr := make([]float64, n)
	for i := range dosage {
		dosage[i] = float64(rnd.Intn(3))
		expr[i] = 0.8*dosage[i] + 0.5*cov.Row(0)[i] - 1.2*cov.Row(1)[i] + rnd.NormFloat64()
	}

	gt := prepareGenotype(ModelLinear, rz, dosage)
	c.Assert(gt, check.NotNil)
	e, ess := residualVector(rz, expr)
	c.Assert(e, check.NotNil)
	pr := testPair(ModelLinear, gt, e, ess, rz.DF())

	full := olsFit(c, expr, dosage, cov)
	c.Check(math.Abs(pr.beta-full[len(full)-1]) < 1e-8, check.Equals, true)

	reduced := olsFit(c, expr, nil, cov)
	rssFull := rss(expr, full, cov.Row(0), cov.Row(1), dosage)
	rssReduced := rss(expr, reduced, cov.Row(0), cov.Row(1))
	tt := (rssReduced - rssFull) * float64(rz.DF()) / rssFull
	c.Check(math.Abs(pr.stat*pr.stat-tt) < 1e-6*(1+tt), check.Equals, true)
}

var benchRz, benchGeno, benchExpr, benchESS = func() (*Residualizer, *genoTerms, []float64, float64) {
	rnd := rand.New(rand.NewSource(6))
	n := 10000
	cov, err := NewMatrix("covariates", []string{"c1", "c2", "c3"}, sampleIDs(n), randSlice(rnd, 3*n))
	if err != nil {
		panic(err)
	}
	rz, err := NewResidualizer(n, cov)
	if err != nil {
		panic(err)
	}
	dosage := make([]float64, n)
	for i := range dosage {
		dosage[i] = float64(rnd.Intn(3))
	}
	gt := prepareGenotype(ModelLinear, rz, dosage)
	e, ess := residualVector(rz, randSlice(rnd, n))
	return rz, gt, e, ess
}()

func (s *modelSuite) BenchmarkTestPair(c *check.C) {
	for i := 0; i < c.N; i++ {
		pr := testPair(ModelLinear, benchGeno, benchExpr, benchESS, benchRz.DF())
		c.Check(pr.p >= 0, check.Equals, true)
	}
}
