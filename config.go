// Copyright (C) The Thunder Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package thunder

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/arvados/thunder/eqtl"
)

// assocConfig mirrors the assoc command's analysis flags so a preset
// can be kept in a TOML file and shared between runs. Flags given on
// the command line override preset values.
type assocConfig struct {
	Model        string  `toml:"model"`
	FDR          string  `toml:"fdr"`
	CisFlank     int     `toml:"cis_flank"`
	CisP         float64 `toml:"cis_p"`
	TransP       float64 `toml:"trans_p"`
	DistanceFrom string  `toml:"distance_from"`
	Bins         int     `toml:"bins"`
	QQPoints     int     `toml:"qq_points"`
	FDRCutoff    float64 `toml:"fdr_cutoff"`
	Threads      int     `toml:"threads"`
}

func defaultAssocConfig() assocConfig {
	cfg := eqtl.DefaultConfig()
	return assocConfig{
		Model:        cfg.Model,
		FDR:          cfg.FDR,
		CisFlank:     cfg.CisFlank,
		CisP:         cfg.CisP,
		TransP:       cfg.TransP,
		DistanceFrom: cfg.DistanceFrom,
		Bins:         cfg.Bins,
		QQPoints:     200,
		FDRCutoff:    0.05,
		Threads:      cfg.Threads,
	}
}

func loadAssocConfig(fnm string, into *assocConfig) error {
	meta, err := toml.DecodeFile(fnm, into)
	if err != nil {
		return fmt.Errorf("%s: %s", fnm, err)
	}
	if un := meta.Undecoded(); len(un) > 0 {
		return fmt.Errorf("%s: unknown configuration key %q", fnm, un[0].String())
	}
	return nil
}

func (c assocConfig) engineConfig() eqtl.Config {
	return eqtl.Config{
		Model:        c.Model,
		FDR:          c.FDR,
		CisFlank:     c.CisFlank,
		CisP:         c.CisP,
		TransP:       c.TransP,
		DistanceFrom: c.DistanceFrom,
		Bins:         c.Bins,
		Threads:      c.Threads,
	}
}
