// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package thunder

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strconv"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/arvados/thunder/eqtl"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

type assoccmd struct {
	dsPath      string
	outputDir   string
	configFile  string
	projectUUID string
	runLocal    bool
	cfg         assocConfig
}

func (cmd *assoccmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	def := defaultAssocConfig()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.dsPath, "i", "", "input dataset `file` or directory (written by import)")
	flags.StringVar(&cmd.outputDir, "output-dir", ".", "output `directory`")
	flags.StringVar(&cmd.configFile, "config", "", "analysis preset `file` (TOML; command line flags override)")
	flags.StringVar(&cmd.projectUUID, "project", "", "project `UUID` for output data")
	flags.BoolVar(&cmd.runLocal, "local", false, "run on local host (default: run in an arvados container)")
	flags.StringVar(&cmd.cfg.Model, "model", def.Model, "association model (linear or anova)")
	flags.StringVar(&cmd.cfg.FDR, "fdr", def.FDR, "FDR method (bh or qvalue)")
	flags.IntVar(&cmd.cfg.CisFlank, "cis-flank", def.CisFlank, "cis window `distance` up/downstream of the transcript span")
	flags.Float64Var(&cmd.cfg.CisP, "cis-p", def.CisP, "cis reporting p-value threshold (0 disables the cis stream)")
	flags.Float64Var(&cmd.cfg.TransP, "trans-p", def.TransP, "trans reporting p-value threshold (0 disables the trans stream)")
	flags.StringVar(&cmd.cfg.DistanceFrom, "distance-from", def.DistanceFrom, "reported distance reference (tss or span)")
	flags.IntVar(&cmd.cfg.Bins, "bins", def.Bins, "p-value histogram `bins` for FDR (0 = exact)")
	flags.IntVar(&cmd.cfg.QQPoints, "qq-points", def.QQPoints, "number of QQ quantile points")
	flags.Float64Var(&cmd.cfg.FDRCutoff, "fdr-cutoff", def.FDRCutoff, "FDR cutoff for the summary counts in stats.json")
	flags.IntVar(&cmd.cfg.Threads, "threads", def.Threads, "worker threads (0 = GOMAXPROCS)")
	priority := flags.Int("priority", 500, "container request priority")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.dsPath == "" {
		fmt.Fprintln(os.Stderr, "cannot run assoc without -i argument")
		return 2
	} else if flags.NArg() > 0 {
		flags.Usage()
		return 2
	}

	if cmd.configFile != "" {
		preset := defaultAssocConfig()
		err = loadAssocConfig(cmd.configFile, &preset)
		if err != nil {
			return 1
		}
		set := map[string]bool{}
		flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if !set["model"] {
			cmd.cfg.Model = preset.Model
		}
		if !set["fdr"] {
			cmd.cfg.FDR = preset.FDR
		}
		if !set["cis-flank"] {
			cmd.cfg.CisFlank = preset.CisFlank
		}
		if !set["cis-p"] {
			cmd.cfg.CisP = preset.CisP
		}
		if !set["trans-p"] {
			cmd.cfg.TransP = preset.TransP
		}
		if !set["distance-from"] {
			cmd.cfg.DistanceFrom = preset.DistanceFrom
		}
		if !set["bins"] {
			cmd.cfg.Bins = preset.Bins
		}
		if !set["qq-points"] {
			cmd.cfg.QQPoints = preset.QQPoints
		}
		if !set["fdr-cutoff"] {
			cmd.cfg.FDRCutoff = preset.FDRCutoff
		}
		if !set["threads"] {
			cmd.cfg.Threads = preset.Threads
		}
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
			Name:        "thunder assoc",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: cmd.projectUUID,
			RAM:         64000000000,
			VCPUs:       16,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(&cmd.dsPath)
		if err != nil {
			return 1
		}
		runner.Args = []string{"assoc",
			"-local=true",
			"-loglevel=" + *loglevel,
			"-model=" + cmd.cfg.Model,
			"-fdr=" + cmd.cfg.FDR,
			fmt.Sprintf("-cis-flank=%d", cmd.cfg.CisFlank),
			fmt.Sprintf("-cis-p=%g", cmd.cfg.CisP),
			fmt.Sprintf("-trans-p=%g", cmd.cfg.TransP),
			"-distance-from=" + cmd.cfg.DistanceFrom,
			fmt.Sprintf("-bins=%d", cmd.cfg.Bins),
			fmt.Sprintf("-qq-points=%d", cmd.cfg.QQPoints),
			fmt.Sprintf("-fdr-cutoff=%g", cmd.cfg.FDRCutoff),
			fmt.Sprintf("-threads=%d", cmd.cfg.Threads),
			"-i", cmd.dsPath,
			"-output-dir", "/mnt/output",
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output)
		return 0
	}

	ds, fp, err := ReadDataset(cmd.dsPath)
	if err != nil {
		return 1
	}
	res, err := eqtl.Run(cmd.cfg.engineConfig(), ds)
	if err != nil {
		return 1
	}
	err = cmd.writeOutputs(res, fp)
	if err != nil {
		return 1
	}
	return 0
}

func (cmd *assoccmd) writeOutputs(res *eqtl.Result, fp [blake2b.Size256]byte) error {
	err := writeAssocCSV(filepath.Join(cmd.outputDir, "cis-eqtl.csv"), res.Cis, true)
	if err != nil {
		return err
	}
	err = writeAssocCSV(filepath.Join(cmd.outputDir, "trans-eqtl.csv"), res.Trans, false)
	if err != nil {
		return err
	}
	err = writeQQ(filepath.Join(cmd.outputDir, "qq.cis.npy"), res.Cis, cmd.cfg.QQPoints)
	if err != nil {
		return err
	}
	err = writeQQ(filepath.Join(cmd.outputDir, "qq.trans.npy"), res.Trans, cmd.cfg.QQPoints)
	if err != nil {
		return err
	}

	output, err := os.Create(filepath.Join(cmd.outputDir, "stats.json"))
	if err != nil {
		return err
	}
	defer output.Close()
	ret := struct {
		Model           string
		DF              int
		Fingerprint     string
		SkippedVariants int64
		SkippedGenes    int64
		Cis             streamReport
		Trans           streamReport
	}{
		Model:           res.Model,
		DF:              res.DF,
		Fingerprint:     fmt.Sprintf("%x", fp),
		SkippedVariants: res.SkippedVariants,
		SkippedGenes:    res.SkippedGenes,
		Cis:             reportStream(res.Cis, cmd.cfg.FDRCutoff),
		Trans:           reportStream(res.Trans, cmd.cfg.FDRCutoff),
	}
	err = json.NewEncoder(output).Encode(ret)
	if err != nil {
		return err
	}
	return output.Close()
}

type streamReport struct {
	Threshold   float64
	Tests       int64
	Records     int
	Significant int
	EGenes      int
	Pi0         float64 `json:",omitempty"`
}

func reportStream(sr *eqtl.StreamResult, cutoff float64) streamReport {
	return streamReport{
		Threshold:   sr.Threshold,
		Tests:       sr.Tested,
		Records:     len(sr.Assocs),
		Significant: sr.Significant(cutoff),
		EGenes:      sr.EGenes(cutoff),
		Pi0:         sr.Pi0,
	}
}

func writeAssocCSV(fnm string, sr *eqtl.StreamResult, withDist bool) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	if withDist {
		fmt.Fprintln(bufw, "variant,gene,beta,stat,df,p-value,FDR,distance")
	} else {
		fmt.Fprintln(bufw, "variant,gene,beta,stat,df,p-value,FDR")
	}
	for _, a := range sr.Assocs {
		beta := ""
		if !math.IsNaN(a.Beta) {
			beta = csvFloat(a.Beta)
		}
		fmt.Fprintf(bufw, "%s,%s,%s,%s,%d,%s,%s", a.Variant, a.Gene, beta, csvFloat(a.Stat), a.DF, csvFloat(a.P), csvFloat(a.FDR))
		if withDist {
			fmt.Fprintf(bufw, ",%d", a.Dist)
		}
		bufw.WriteByte('\n')
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func csvFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeQQ(fnm string, sr *eqtl.StreamResult, points int) error {
	expected, observed := sr.QQ(points)
	out := make([]float64, 0, 2*len(expected))
	out = append(out, expected...)
	out = append(out, observed...)
	return writeNumpyFloat64(fnm, out, 2, len(expected))
}
