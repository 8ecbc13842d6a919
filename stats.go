// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package thunder

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
)

type statscmd struct{}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	inputFilename := flags.String("i", "-", "input `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if *outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "thunder stats",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         16000000000,
			VCPUs:       1,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputFilename)
		if err != nil {
			return 1
		}
		runner.Args = []string{"stats", "-local=true", "-i", *inputFilename, "-o", "/mnt/output/stats.json"}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/stats.json")
		return 0
	}

	var input io.ReadCloser
	if *inputFilename == "-" {
		input = ioutil.NopCloser(stdin)
	} else {
		input, err = zopen(*inputFilename)
		if err != nil {
			return 1
		}
		defer input.Close()
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}

	bufw := bufio.NewWriter(output)
	err = cmd.doStats(input, bufw)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func (cmd *statscmd) doStats(input io.Reader, output io.Writer) error {
	var ret struct {
		Samples         int
		Variants        int
		Genes           int
		CovariateRows   int
		VariantsByChrom map[string]int
		GenesByChrom    map[string]int
		DosageSpectrum  []int64 // calls per rounded dosage class 0, 1, 2
		ImputedCalls    int64   // calls with a fractional dosage
		Fingerprint     string
	}
	ret.VariantsByChrom = map[string]int{}
	ret.GenesByChrom = map[string]int{}
	ret.DosageSpectrum = make([]int64, 3)

	seenHeader := false
	err := DecodeDataset(bufio.NewReaderSize(input, 1<<26), func(ent *DatasetEntry) error {
		if len(ent.SampleIDs) > 0 {
			if seenHeader {
				return errors.New("invalid input: contains multiple sample headers")
			}
			seenHeader = true
			ret.Samples = len(ent.SampleIDs)
			ret.Fingerprint = fmt.Sprintf("%x", ent.Fingerprint)
		}
		ret.CovariateRows += len(ent.Covariates)
		ret.Variants += len(ent.Variants)
		ret.Genes += len(ent.Genes)
		for _, row := range ent.Variants {
			ret.VariantsByChrom[row.Chrom]++
			for _, v := range row.Dosage {
				r := math.Round(v)
				if r < 0 {
					r = 0
				} else if r > 2 {
					r = 2
				}
				ret.DosageSpectrum[int(r)]++
				if v != math.Trunc(v) {
					ret.ImputedCalls++
				}
			}
		}
		for _, row := range ent.Genes {
			ret.GenesByChrom[row.Chrom]++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	if !seenHeader {
		return errors.New("invalid input: no sample header")
	}
	return json.NewEncoder(output).Encode(ret)
}
