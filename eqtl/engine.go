// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eqtl

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Dataset is the aligned input of one analysis run.
type Dataset struct {
	Geno       *Matrix
	Expr       *Matrix
	Cov        *Matrix // optional
	VariantPos []Pos   // aligned to Geno.RowIDs
	GeneSpan   []Span  // aligned to Expr.RowIDs
}

func (data *Dataset) validate() error {
	if data == nil || data.Geno == nil || data.Expr == nil {
		return fmt.Errorf("dataset needs both a genotype and an expression matrix")
	}
	if len(data.VariantPos) != data.Geno.Rows() {
		return fmt.Errorf("have %d variant positions, want %d", len(data.VariantPos), data.Geno.Rows())
	}
	if len(data.GeneSpan) != data.Expr.Rows() {
		return fmt.Errorf("have %d gene spans, want %d", len(data.GeneSpan), data.Expr.Rows())
	}
	if err := checkAligned(data.Geno, data.Expr, data.Cov); err != nil {
		return err
	}
	for _, m := range []*Matrix{data.Geno, data.Expr, data.Cov} {
		if m == nil {
			continue
		}
		if err := m.CheckFinite(); err != nil {
			return err
		}
	}
	return nil
}

// Config collects the tunable parameters of an analysis run.
type Config struct {
	Model        string
	FDR          string
	CisFlank     int
	CisP         float64 // reporting threshold; 0 disables the stream
	TransP       float64
	DistanceFrom string
	Bins         int // histogram bins for p-value distributions; 0 = exact
	Threads      int // 0 = GOMAXPROCS
}

func DefaultConfig() Config {
	return Config{
		Model:        ModelLinear,
		FDR:          FDRBenjaminiHochberg,
		CisFlank:     1000000,
		CisP:         1e-2,
		TransP:       1e-5,
		DistanceFrom: DistanceTSS,
	}
}

func (cfg *Config) validate() error {
	switch cfg.Model {
	case ModelLinear, ModelANOVA:
	default:
		return fmt.Errorf("unknown model %q", cfg.Model)
	}
	switch cfg.FDR {
	case FDRBenjaminiHochberg, FDRQValue:
	default:
		return fmt.Errorf("unknown FDR method %q", cfg.FDR)
	}
	switch cfg.DistanceFrom {
	case DistanceTSS, DistanceSpan:
	default:
		return fmt.Errorf("unknown distance reference %q", cfg.DistanceFrom)
	}
	if cfg.CisFlank < 0 {
		return fmt.Errorf("negative cis flank %d", cfg.CisFlank)
	}
	if cfg.CisP < 0 || cfg.CisP > 1 {
		return fmt.Errorf("cis p-value threshold %g out of range", cfg.CisP)
	}
	if cfg.TransP < 0 || cfg.TransP > 1 {
		return fmt.Errorf("trans p-value threshold %g out of range", cfg.TransP)
	}
	if cfg.Bins < 0 {
		return fmt.Errorf("negative histogram bin count %d", cfg.Bins)
	}
	return nil
}

type streamAcc struct {
	assocs []Assoc
	dist   *pvalDist
}

// Run tests every enabled variant/gene pair of the dataset and returns
// the per-stream records and diagnostics. The input is not modified,
// and identical input and config produce identical results regardless
// of thread count.
func Run(cfg Config, data *Dataset) (*Result, error) {
	start := time.Now()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := data.validate(); err != nil {
		return nil, err
	}
	n := data.Geno.Cols()
	nv, ng := data.Geno.Rows(), data.Expr.Rows()
	rz, err := NewResidualizer(n, data.Cov)
	if err != nil {
		return nil, err
	}
	pt, err := NewPartitioner(data.VariantPos, data.GeneSpan, cfg.CisFlank)
	if err != nil {
		return nil, err
	}
	threads := cfg.Threads
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}

	result := &Result{Model: cfg.Model, DF: rz.DF()}
	cis := &streamAcc{dist: newPvalDist(cfg.Bins)}
	trans := &streamAcc{dist: newPvalDist(cfg.Bins)}
	var skippedVariants, skippedGenes int64

	if cfg.CisP > 0 || cfg.TransP > 0 {
		log.Infof("testing %d variants x %d genes on %d samples, model %s, df %d", nv, ng, n, cfg.Model, rz.DF())
		prepared := make([]*genoTerms, nv)
		work := &throttle{Max: threads}
		for vi := 0; vi < nv; vi++ {
			vi := vi
			work.Go(func() error {
				if gt := prepareGenotype(cfg.Model, rz, data.Geno.Row(vi)); gt != nil {
					prepared[vi] = gt
				} else {
					atomic.AddInt64(&skippedVariants, 1)
				}
				return nil
			})
		}
		if err := work.Wait(); err != nil {
			return nil, err
		}
		if skippedVariants > 0 {
			log.Warnf("excluded %d of %d variants as degenerate", skippedVariants, nv)
		}

		var mtx sync.Mutex
		work = &throttle{Max: threads}
		for gi := 0; gi < ng; gi++ {
			gi := gi
			work.Go(func() error {
				e, ess := residualVector(rz, data.Expr.Row(gi))
				if e == nil {
					atomic.AddInt64(&skippedGenes, 1)
					return nil
				}
				localCis := streamAcc{dist: newPvalDist(cfg.Bins)}
				localTrans := streamAcc{dist: newPvalDist(cfg.Bins)}
				test := func(vi int) {
					gt := prepared[vi]
					if gt == nil {
						return
					}
					acc, threshold := &localTrans, cfg.TransP
					isCis := pt.Cis(data.VariantPos[vi], gi)
					if isCis {
						acc, threshold = &localCis, cfg.CisP
					}
					if threshold == 0 {
						return
					}
					pr := testPair(cfg.Model, gt, e, ess, rz.DF())
					acc.dist.add(pr.p)
					if pr.p <= threshold {
						a := Assoc{
							Variant: data.Geno.RowIDs[vi],
							Gene:    data.Expr.RowIDs[gi],
							Beta:    pr.beta,
							Stat:    pr.stat,
							DF:      pr.df,
							P:       pr.p,
							Stream:  StreamTrans,
							vi:      vi,
							gi:      gi,
						}
						if isCis {
							a.Stream = StreamCis
							a.Dist = pt.Distance(data.VariantPos[vi], gi, cfg.DistanceFrom)
						}
						acc.assocs = append(acc.assocs, a)
					}
				}
				if cfg.TransP == 0 {
					for _, vi := range pt.CisVariants(gi) {
						test(vi)
					}
				} else {
					for vi := 0; vi < nv; vi++ {
						test(vi)
					}
				}
				mtx.Lock()
				cis.dist.merge(localCis.dist)
				cis.assocs = append(cis.assocs, localCis.assocs...)
				trans.dist.merge(localTrans.dist)
				trans.assocs = append(trans.assocs, localTrans.assocs...)
				mtx.Unlock()
				return nil
			})
		}
		if err := work.Wait(); err != nil {
			return nil, err
		}
		if skippedGenes > 0 {
			log.Warnf("excluded %d of %d genes as degenerate", skippedGenes, ng)
		}
	} else {
		log.Warnf("cis and trans reporting thresholds are both zero, nothing to test")
	}

	result.SkippedVariants = skippedVariants
	result.SkippedGenes = skippedGenes
	for _, s := range []struct {
		acc       *streamAcc
		stream    string
		threshold float64
		out       **StreamResult
	}{
		{cis, StreamCis, cfg.CisP, &result.Cis},
		{trans, StreamTrans, cfg.TransP, &result.Trans},
	} {
		s.acc.dist.finalize()
		fc, err := newFDRCalc(s.acc.dist, cfg.FDR)
		if err != nil {
			return nil, err
		}
		for i := range s.acc.assocs {
			s.acc.assocs[i].FDR = fc.fdr(s.acc.assocs[i].P)
		}
		sortAssocs(s.acc.assocs)
		*s.out = &StreamResult{
			Stream:    s.stream,
			Threshold: s.threshold,
			Assocs:    s.acc.assocs,
			Tested:    s.acc.dist.n,
			Pi0:       fc.pi0,
			dist:      s.acc.dist,
		}
	}
	log.Infof("tested %d cis + %d trans pairs, retained %d + %d records, elapsed %v",
		result.Cis.Tested, result.Trans.Tested, len(result.Cis.Assocs), len(result.Trans.Assocs), time.Since(start))
	return result, nil
}
