// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package thunder

import (
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"

	"github.com/arvados/thunder/eqtl"
	"golang.org/x/crypto/blake2b"
)

// A dataset file is a gob stream of DatasetEntry values, usually
// gzipped. The first entry carries the sample header and fingerprint;
// genotype and expression rows follow in chunks so a reader never
// needs more than one chunk in memory before assembly.
type DatasetEntry struct {
	SampleIDs   []string
	Fingerprint [blake2b.Size256]byte
	Covariates  []DataRow
	Variants    []VariantRow
	Genes       []GeneRow
}

type DataRow struct {
	ID    string
	Value []float64
}

type VariantRow struct {
	ID     string
	Chrom  string
	Pos    int
	Dosage []float64
}

type GeneRow struct {
	ID      string
	Chrom   string
	TxStart int
	TxEnd   int
	Value   []float64
}

const datasetChunkRows = 1000

var matchGobFile = regexp.MustCompile(`\.gob(\.gz)?$`)

// WriteDataset encodes ds as a gob stream on w and returns the
// dataset fingerprint it stored in the header entry.
func WriteDataset(w io.Writer, ds *eqtl.Dataset) ([blake2b.Size256]byte, error) {
	fp := DatasetFingerprint(ds)
	enc := gob.NewEncoder(w)
	hdr := DatasetEntry{
		SampleIDs:   ds.Geno.Samples,
		Fingerprint: fp,
	}
	if ds.Cov != nil {
		for i, id := range ds.Cov.RowIDs {
			hdr.Covariates = append(hdr.Covariates, DataRow{ID: id, Value: ds.Cov.Row(i)})
		}
	}
	err := enc.Encode(hdr)
	if err != nil {
		return fp, err
	}
	for start := 0; start < ds.Geno.Rows(); start += datasetChunkRows {
		end := start + datasetChunkRows
		if end > ds.Geno.Rows() {
			end = ds.Geno.Rows()
		}
		ent := DatasetEntry{}
		for i := start; i < end; i++ {
			ent.Variants = append(ent.Variants, VariantRow{
				ID:     ds.Geno.RowIDs[i],
				Chrom:  ds.VariantPos[i].Chrom,
				Pos:    ds.VariantPos[i].Pos,
				Dosage: ds.Geno.Row(i),
			})
		}
		err = enc.Encode(ent)
		if err != nil {
			return fp, err
		}
	}
	for start := 0; start < ds.Expr.Rows(); start += datasetChunkRows {
		end := start + datasetChunkRows
		if end > ds.Expr.Rows() {
			end = ds.Expr.Rows()
		}
		ent := DatasetEntry{}
		for i := start; i < end; i++ {
			ent.Genes = append(ent.Genes, GeneRow{
				ID:      ds.Expr.RowIDs[i],
				Chrom:   ds.GeneSpan[i].Chrom,
				TxStart: ds.GeneSpan[i].Start,
				TxEnd:   ds.GeneSpan[i].End,
				Value:   ds.Expr.Row(i),
			})
		}
		err = enc.Encode(ent)
		if err != nil {
			return fp, err
		}
	}
	return fp, nil
}

// DecodeDataset reads a gob stream from rdr and passes each entry to
// cb, stopping at EOF or the first error.
func DecodeDataset(rdr io.Reader, cb func(*DatasetEntry) error) error {
	dec := gob.NewDecoder(rdr)
	for {
		var ent DatasetEntry
		err := dec.Decode(&ent)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		err = cb(&ent)
		if err != nil {
			return err
		}
	}
}

// ReadDataset loads a dataset from the given file, or from all
// matching gob files in the given directory.
func ReadDataset(path string) (*eqtl.Dataset, [blake2b.Size256]byte, error) {
	var fp [blake2b.Size256]byte
	infiles, err := allFiles(path, matchGobFile)
	if err != nil {
		return nil, fp, err
	}
	if len(infiles) == 0 {
		return nil, fp, fmt.Errorf("no input files found in %s", path)
	}
	sort.Strings(infiles)

	var samples []string
	var haveFP bool
	var covs []DataRow
	var variants []VariantRow
	var genes []GeneRow
	for _, fnm := range infiles {
		f, err := zopen(fnm)
		if err != nil {
			return nil, fp, err
		}
		err = DecodeDataset(f, func(ent *DatasetEntry) error {
			if len(ent.SampleIDs) > 0 {
				if samples == nil {
					samples = ent.SampleIDs
					fp = ent.Fingerprint
					haveFP = true
				} else if len(samples) != len(ent.SampleIDs) {
					return fmt.Errorf("%s: sample header has %d samples, want %d", fnm, len(ent.SampleIDs), len(samples))
				}
			}
			if samples == nil {
				return fmt.Errorf("%s: data rows precede sample header", fnm)
			}
			for _, row := range ent.Covariates {
				if len(row.Value) != len(samples) {
					return fmt.Errorf("%s: covariate %q has %d values, want %d", fnm, row.ID, len(row.Value), len(samples))
				}
				covs = append(covs, row)
			}
			for _, row := range ent.Variants {
				if len(row.Dosage) != len(samples) {
					return fmt.Errorf("%s: variant %q has %d dosages, want %d", fnm, row.ID, len(row.Dosage), len(samples))
				}
				variants = append(variants, row)
			}
			for _, row := range ent.Genes {
				if len(row.Value) != len(samples) {
					return fmt.Errorf("%s: gene %q has %d values, want %d", fnm, row.ID, len(row.Value), len(samples))
				}
				genes = append(genes, row)
			}
			return nil
		})
		f.Close()
		if err != nil {
			return nil, fp, err
		}
	}
	if !haveFP {
		return nil, fp, fmt.Errorf("%s: no sample header found", path)
	}

	ds := &eqtl.Dataset{
		VariantPos: make([]eqtl.Pos, len(variants)),
		GeneSpan:   make([]eqtl.Span, len(genes)),
	}
	gids := make([]string, len(variants))
	gvals := make([]float64, 0, len(variants)*len(samples))
	for i, row := range variants {
		gids[i] = row.ID
		ds.VariantPos[i] = eqtl.Pos{Chrom: row.Chrom, Pos: row.Pos}
		gvals = append(gvals, row.Dosage...)
	}
	ds.Geno, err = eqtl.NewMatrix("genotype", gids, samples, gvals)
	if err != nil {
		return nil, fp, err
	}
	eids := make([]string, len(genes))
	evals := make([]float64, 0, len(genes)*len(samples))
	for i, row := range genes {
		eids[i] = row.ID
		ds.GeneSpan[i] = eqtl.Span{Chrom: row.Chrom, Start: row.TxStart, End: row.TxEnd}
		evals = append(evals, row.Value...)
	}
	ds.Expr, err = eqtl.NewMatrix("expression", eids, samples, evals)
	if err != nil {
		return nil, fp, err
	}
	if len(covs) > 0 {
		cids := make([]string, len(covs))
		cvals := make([]float64, 0, len(covs)*len(samples))
		for i, row := range covs {
			cids[i] = row.ID
			cvals = append(cvals, row.Value...)
		}
		ds.Cov, err = eqtl.NewMatrix("covariate", cids, samples, cvals)
		if err != nil {
			return nil, fp, err
		}
	}
	return ds, fp, nil
}

// DatasetFingerprint hashes the sample header, row labels, positions,
// and values of all three matrices, so any change to the imported
// data changes the fingerprint.
func DatasetFingerprint(ds *eqtl.Dataset) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	buf := make([]byte, 8)
	putstr := func(s string) {
		io.WriteString(h, s)
		h.Write([]byte{0})
	}
	putint := func(v int) {
		binary.LittleEndian.PutUint64(buf, uint64(v))
		h.Write(buf)
	}
	putvals := func(vals []float64) {
		for _, v := range vals {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			h.Write(buf)
		}
	}
	for _, id := range ds.Geno.Samples {
		putstr(id)
	}
	for i, id := range ds.Geno.RowIDs {
		putstr(id)
		putstr(ds.VariantPos[i].Chrom)
		putint(ds.VariantPos[i].Pos)
		putvals(ds.Geno.Row(i))
	}
	for i, id := range ds.Expr.RowIDs {
		putstr(id)
		putstr(ds.GeneSpan[i].Chrom)
		putint(ds.GeneSpan[i].Start)
		putint(ds.GeneSpan[i].End)
		putvals(ds.Expr.Row(i))
	}
	if ds.Cov != nil {
		for i, id := range ds.Cov.RowIDs {
			putstr(id)
			putvals(ds.Cov.Row(i))
		}
	}
	var fp [blake2b.Size256]byte
	h.Sum(fp[:0])
	return fp
}

// allFiles returns path itself if it is a regular file, otherwise the
// files in the directory at path whose names match re.
func allFiles(path string, re *regexp.Regexp) ([]string, error) {
	var files []string
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fis, err := f.Readdir(-1)
	if err != nil {
		return []string{path}, nil
	}
	for _, fi := range fis {
		if fi.IsDir() {
			continue
		}
		if re == nil || re.MatchString(fi.Name()) {
			files = append(files, path+"/"+fi.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
