// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"flag"
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the number of input rows held in memory at once.
const DefaultChunkSize = 500000

// WhitespaceSeparator is the Separator value that splits fields on
// runs of spaces and tabs, ignoring leading and trailing whitespace.
const WhitespaceSeparator rune = -1

// Config controls how input files are named, read, cleaned and
// written.
type Config struct {
	OutputDir string
	// Prefix is stripped from input file names to get the
	// phenotype ID.
	Prefix    string
	ChunkSize int
	Separator rune
	// Rename maps input header names to standard column names.
	// Input columns not listed here are dropped.
	Rename map[string]string
	// Require lists standard columns that must be present in every
	// input, in addition to the ones the filters need.
	Require []string
	// OmitMissing drops standard columns that have no source from
	// the output instead of filling them with NA.
	OmitMissing   bool
	KeepAmbiguous bool
	Workers       int
	// N, if not empty, replaces the metadata sample size: a string of
	// digits is a fixed N for every row, anything else names the
	// input column holding each row's N.
	N string
}

// DefaultRenameMap returns the column mapping for FinnGen summary
// statistics.
func DefaultRenameMap() map[string]string {
	return map[string]string{
		"#chrom": "CHR",
		"pos":    "BP",
		"alt":    "A1",
		"ref":    "A2",
		"rsids":  "SNP",
		"pval":   "P",
		"beta":   "BETA",
		"sebeta": "SE",
		"af_alt": "FRQ",
	}
}

// DefaultConfig returns the configuration for FinnGen inputs.
func DefaultConfig() Config {
	return Config{
		OutputDir: ".",
		Prefix:    "finngen_R12_",
		ChunkSize: DefaultChunkSize,
		Separator: '\t',
		Rename:    DefaultRenameMap(),
	}
}

// DefaultWorkers returns half the available CPUs, but at least 1.
func DefaultWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// Flags registers command line flags that modify cfg.
func (cfg *Config) Flags(flags *flag.FlagSet) {
	flags.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "output `directory`")
	flags.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "input file name `prefix` preceding the phenotype ID")
	flags.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "read input in chunks of `N` rows")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "process `N` files concurrently (0 = half the CPUs)")
	flags.BoolVar(&cfg.OmitMissing, "omit-missing", cfg.OmitMissing, "omit output columns that have no source column, instead of filling with NA")
	flags.BoolVar(&cfg.KeepAmbiguous, "keep-ambiguous", cfg.KeepAmbiguous, "keep strand-ambiguous (A/T, C/G) variants")
	flags.StringVar(&cfg.N, "N", cfg.N, "input `column` holding N, or a fixed integer N, instead of num_cases+num_controls from metadata")
	flags.Func("sep", "input field `separator`: a single character, tab, space, or \\s+ for runs of whitespace (default tab)", func(s string) error {
		sep, err := parseSeparator(s)
		if err != nil {
			return err
		}
		cfg.Separator = sep
		return nil
	})
	flags.Func("require", "comma-separated standard `columns` that every input must provide", func(s string) error {
		for _, col := range strings.Split(s, ",") {
			if col = strings.TrimSpace(col); col != "" {
				cfg.Require = append(cfg.Require, col)
			}
		}
		return nil
	})
	for _, col := range StandardColumns[:colN] {
		col := col
		flags.Func(col, "input `column` to use as "+col, func(s string) error {
			return cfg.setSource(col, s)
		})
	}
}

// setSource makes input column orig the (only) source of standard
// column std.
func (cfg *Config) setSource(std, orig string) error {
	if standardIndex(std) < 0 || std == "N" {
		return fmt.Errorf("%q is not a renameable standard column", std)
	}
	if cfg.Rename == nil {
		cfg.Rename = map[string]string{}
	}
	for k, v := range cfg.Rename {
		if v == std {
			delete(cfg.Rename, k)
		}
	}
	cfg.Rename[orig] = std
	return nil
}

func parseSeparator(s string) (rune, error) {
	switch s {
	case `\t`, "tab", "\t":
		return '\t', nil
	case "space", " ":
		return ' ', nil
	case `\s+`, "whitespace":
		return WhitespaceSeparator, nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("invalid separator %q", s)
	}
	return r, nil
}

// Validate returns an error if cfg cannot be used to process files.
func (cfg *Config) Validate() error {
	if cfg.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size %d", cfg.ChunkSize)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("invalid worker count %d", cfg.Workers)
	}
	var origs []string
	for orig := range cfg.Rename {
		origs = append(origs, orig)
	}
	sort.Strings(origs)
	target := map[string]string{}
	for _, orig := range origs {
		std := cfg.Rename[orig]
		if idx := standardIndex(std); idx < 0 || idx == colN {
			return fmt.Errorf("column %q renamed to %q, which is not a standard column (use -N to set N)", orig, std)
		}
		if prev, ok := target[std]; ok {
			return fmt.Errorf("columns %q and %q are both renamed to %s", prev, orig, std)
		}
		target[std] = orig
	}
	for _, col := range cfg.Require {
		if standardIndex(col) < 0 {
			return fmt.Errorf("required column %q is not a standard column", col)
		}
	}
	if _, _, err := cfg.fixedN(); err != nil {
		return err
	}
	return nil
}

// fixedN returns the fixed sample size given by cfg.N, if cfg.N is a
// string of digits.
func (cfg *Config) fixedN() (n int, fixed bool, err error) {
	if cfg.N == "" {
		return 0, false, nil
	} else if strings.TrimLeft(cfg.N, "0123456789") != "" {
		if _, err := strconv.Atoi(cfg.N); err == nil {
			return 0, false, fmt.Errorf("invalid N %q: fixed N must be a non-negative integer", cfg.N)
		}
		return 0, false, nil
	}
	n, err = strconv.Atoi(cfg.N)
	if err != nil {
		return 0, false, fmt.Errorf("invalid N %q: %w", cfg.N, err)
	}
	return n, true, nil
}

var compressionExts = []string{".gz", ".bgz", ".xz", ".zst", ".bz2"}
var textExts = []string{".tsv", ".txt"}

// PhenotypeID derives the phenotype ID from an input file name by
// stripping the configured prefix and known extensions, e.g.
// "finngen_R12_I9_AF.gz" => "I9_AF".
func (cfg *Config) PhenotypeID(infile string) string {
	base := path.Base(filepath.ToSlash(infile))
	for _, exts := range [][]string{compressionExts, textExts} {
		for _, ext := range exts {
			if strings.HasSuffix(base, ext) {
				base = strings.TrimSuffix(base, ext)
				break
			}
		}
	}
	return strings.TrimPrefix(base, cfg.Prefix)
}

func (cfg *Config) OutputPath(pheno string) string {
	return filepath.Join(cfg.OutputDir, pheno+".txt")
}

func (cfg *Config) DonePath(pheno string) string {
	return filepath.Join(cfg.OutputDir, pheno+".done")
}
