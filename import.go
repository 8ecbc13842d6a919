// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package thunder

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/arvados/thunder/eqtl"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

type importer struct {
	genoFile        string
	exprFile        string
	covFile         string
	variantPosFile  string
	genePosFile     string
	outputFile      string
	projectUUID     string
	runLocal        bool
	missingGenotype string
}

func (cmd *importer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.genoFile, "genotype", "", "genotype dosage matrix `file` (tsv or npy)")
	flags.StringVar(&cmd.exprFile, "expression", "", "expression matrix `file` (tsv or npy)")
	flags.StringVar(&cmd.covFile, "covariates", "", "covariate matrix `file` (tsv or npy, optional)")
	flags.StringVar(&cmd.variantPosFile, "variant-positions", "", "variant position table `file` (id, chrom, pos)")
	flags.StringVar(&cmd.genePosFile, "gene-positions", "", "gene position table `file` (id, chrom, txStart, txEnd)")
	flags.StringVar(&cmd.missingGenotype, "missing-genotype", "mean", "missing dosage policy (mean or reject)")
	flags.StringVar(&cmd.outputFile, "o", "-", "output `file`")
	flags.StringVar(&cmd.projectUUID, "project", "", "project `UUID` for output data")
	flags.BoolVar(&cmd.runLocal, "local", false, "run on local host (default: run in an arvados container)")
	priority := flags.Int("priority", 500, "container request priority")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.genoFile == "" || cmd.exprFile == "" {
		fmt.Fprintln(os.Stderr, "cannot import without -genotype and -expression arguments")
		return 2
	} else if cmd.variantPosFile == "" || cmd.genePosFile == "" {
		fmt.Fprintln(os.Stderr, "cannot import without -variant-positions and -gene-positions arguments")
		return 2
	} else if flags.NArg() > 0 {
		flags.Usage()
		return 2
	}
	if cmd.missingGenotype != "mean" && cmd.missingGenotype != "reject" {
		err = fmt.Errorf("unknown -missing-genotype mode %q", cmd.missingGenotype)
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	if !cmd.runLocal {
		runner := arvadosContainerRunner{
			Name:        "thunder import",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: cmd.projectUUID,
			RAM:         16000000000,
			VCPUs:       4,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(&cmd.genoFile, &cmd.exprFile, &cmd.covFile, &cmd.variantPosFile, &cmd.genePosFile)
		if err != nil {
			return 1
		}
		if cmd.outputFile == "-" {
			cmd.outputFile = "/mnt/output/dataset.gob.gz"
		} else {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner.Args = []string{"import",
			"-local=true",
			"-loglevel=" + *loglevel,
			"-missing-genotype=" + cmd.missingGenotype,
			"-genotype", cmd.genoFile,
			"-expression", cmd.exprFile,
			"-variant-positions", cmd.variantPosFile,
			"-gene-positions", cmd.genePosFile,
			"-o", cmd.outputFile,
		}
		if cmd.covFile != "" {
			runner.Args = append(runner.Args, "-covariates", cmd.covFile)
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/dataset.gob.gz")
		return 0
	}

	ds, imputed, err := cmd.loadDataset()
	if err != nil {
		return 1
	}
	log.Infof("imported %d variants, %d genes, %d samples", ds.Geno.Rows(), ds.Expr.Rows(), ds.Geno.Cols())
	if imputed > 0 {
		log.Infof("imputed %d missing genotype calls", imputed)
	}

	var output io.WriteCloser
	if cmd.outputFile == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(cmd.outputFile, os.O_CREATE|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	var w io.Writer = bufw
	var zw *pgzip.Writer
	if strings.HasSuffix(cmd.outputFile, ".gz") {
		zw = pgzip.NewWriter(bufw)
		w = zw
	}
	fp, err := WriteDataset(w, ds)
	if err != nil {
		return 1
	}
	if zw != nil {
		err = zw.Close()
		if err != nil {
			return 1
		}
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	log.Printf("dataset fingerprint %x", fp)
	return 0
}

// loadDataset reads the input matrices and position tables, drops
// rows with no position entry and samples not present in all
// matrices, applies the missing-genotype policy, and returns a
// dataset aligned on a common sample order.
func (cmd *importer) loadDataset() (*eqtl.Dataset, int, error) {
	geno, err := cmd.loadGenotypeNA()
	if err != nil {
		return nil, 0, err
	}
	expr, err := loadMatrix(cmd.exprFile, "expression")
	if err != nil {
		return nil, 0, err
	}
	var cov *eqtl.Matrix
	if cmd.covFile != "" {
		cov, err = cmd.loadCovariates()
		if err != nil {
			return nil, 0, err
		}
	}

	var variantPos map[string]eqtl.Pos
	err = loadPositions(cmd.variantPosFile, func(buf []byte) error {
		var err error
		variantPos, err = readVariantPositions(buf)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	var geneSpan map[string]eqtl.Span
	err = loadPositions(cmd.genePosFile, func(buf []byte) error {
		var err error
		geneSpan, err = readGenePositions(buf)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	var pos []eqtl.Pos
	var gids []string
	var gvals []float64
	dropped := 0
	for i, id := range geno.RowIDs {
		p, ok := variantPos[id]
		if !ok {
			dropped++
			continue
		}
		gids = append(gids, id)
		gvals = append(gvals, geno.Row(i)...)
		pos = append(pos, p)
	}
	if dropped > 0 {
		log.Warnf("dropping %d genotype rows with no variant position entry", dropped)
	}
	if len(gids) == 0 {
		return nil, 0, errors.New("no genotype rows have position entries")
	}
	geno, err = eqtl.NewMatrix("genotype", gids, geno.Samples, gvals)
	if err != nil {
		return nil, 0, err
	}

	var span []eqtl.Span
	var eids []string
	var evals []float64
	dropped = 0
	for i, id := range expr.RowIDs {
		s, ok := geneSpan[id]
		if !ok {
			dropped++
			continue
		}
		eids = append(eids, id)
		evals = append(evals, expr.Row(i)...)
		span = append(span, s)
	}
	if dropped > 0 {
		log.Warnf("dropping %d expression rows with no gene position entry", dropped)
	}
	if len(eids) == 0 {
		return nil, 0, errors.New("no expression rows have position entries")
	}
	expr, err = eqtl.NewMatrix("expression", eids, expr.Samples, evals)
	if err != nil {
		return nil, 0, err
	}

	mm := []*eqtl.Matrix{geno, expr}
	if cov != nil {
		mm = append(mm, cov)
	}
	common := eqtl.CommonSamples(mm...)
	if len(common) == 0 {
		return nil, 0, errors.New("no samples are present in all matrices")
	}
	for _, m := range mm {
		if n := m.Cols() - len(common); n > 0 {
			log.Warnf("%s: dropping %d samples not present in all matrices", m.Name, n)
		}
	}
	geno, err = geno.SelectSamples(common)
	if err != nil {
		return nil, 0, err
	}
	expr, err = expr.SelectSamples(common)
	if err != nil {
		return nil, 0, err
	}
	if cov != nil {
		cov, err = cov.SelectSamples(common)
		if err != nil {
			return nil, 0, err
		}
		err = cov.CheckFinite()
		if err != nil {
			return nil, 0, err
		}
	}
	err = expr.CheckFinite()
	if err != nil {
		return nil, 0, err
	}

	// Imputed means are computed over the aligned sample set only.
	imputed, err := imputeDosages(geno, cmd.missingGenotype == "mean")
	if err != nil {
		return nil, 0, err
	}

	return &eqtl.Dataset{
		Geno:       geno,
		Expr:       expr,
		Cov:        cov,
		VariantPos: pos,
		GeneSpan:   span,
	}, imputed, nil
}

func (cmd *importer) loadGenotypeNA() (*eqtl.Matrix, error) {
	if strings.HasSuffix(cmd.genoFile, ".npy") {
		return readMatrixNpy(cmd.genoFile, "genotype")
	}
	t, err := loadTable(cmd.genoFile, "genotype")
	if err != nil {
		return nil, err
	}
	return t.numericNA()
}

func (cmd *importer) loadCovariates() (*eqtl.Matrix, error) {
	if strings.HasSuffix(cmd.covFile, ".npy") {
		return readMatrixNpy(cmd.covFile, "covariate")
	}
	t, err := loadTable(cmd.covFile, "covariate")
	if err != nil {
		return nil, err
	}
	return eqtl.EncodeCovariates("covariate", t.RowIDs, t.Samples, t.Cells)
}
