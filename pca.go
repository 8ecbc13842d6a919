// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package thunder

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/arvados/thunder/eqtl"
	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// pcacmd computes principal components of a dataset's expression
// matrix. The components are written both as a covariates.csv ready
// to be fed back to import, and as a samples x components pca.npy.
type pcacmd struct{}

func (cmd *pcacmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	inputPath := flags.String("i", "", "input dataset `file` or directory (written by import)")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	components := flags.Int("components", 10, "number of components")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "cannot run pca without -i argument")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		runner := arvadosContainerRunner{
			Name:        "thunder pca",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         16000000000,
			VCPUs:       8,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputPath)
		if err != nil {
			return 1
		}
		runner.Args = []string{"pca", "-local=true", fmt.Sprintf("-components=%d", *components), "-i", *inputPath, "-output-dir", "/mnt/output"}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output)
		return 0
	}

	log.Print("reading dataset")
	ds, _, err := ReadDataset(*inputPath)
	if err != nil {
		return 1
	}
	genes, samples := ds.Expr.Rows(), ds.Expr.Cols()
	max := genes
	if samples < max {
		max = samples
	}
	if *components < 1 || *components > max {
		err = fmt.Errorf("cannot compute %d components from %d genes x %d samples", *components, genes, samples)
		return 1
	}

	mtx := mat.NewDense(genes, samples, ds.Expr.Values)
	log.Printf("fitting %d components", *components)
	transformer := nlp.NewPCA(*components)
	transformer.Fit(mtx)
	log.Print("transforming")
	pcs, err := transformer.Transform(mtx)
	if err != nil {
		return 1
	}

	rows, cols := pcs.Dims()
	vals := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			vals[i*cols+j] = pcs.At(i, j)
		}
	}
	ids := make([]string, rows)
	for i := range ids {
		ids[i] = fmt.Sprintf("PC%d", i+1)
	}
	pcmtx, err := eqtl.NewMatrix("covariate", ids, ds.Expr.Samples, vals)
	if err != nil {
		return 1
	}
	err = writeMatrixCSV(filepath.Join(*outputDir, "covariates.csv"), pcmtx)
	if err != nil {
		return 1
	}

	t := pcs.T()
	trows, tcols := t.Dims()
	out := make([]float64, trows*tcols)
	for i := 0; i < trows; i++ {
		for j := 0; j < tcols; j++ {
			out[i*tcols+j] = t.At(i, j)
		}
	}
	err = writeNumpyFloat64(filepath.Join(*outputDir, "pca.npy"), out, trows, tcols)
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}
