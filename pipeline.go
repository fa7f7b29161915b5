// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Indexes into StandardColumns.
const (
	colCHR = iota
	colBP
	colA1
	colA2
	colSNP
	colP
	colBETA
	colSE
	colFRQ
	colN
	numStandardColumns
)

// StandardColumns is the output schema, in output order.
var StandardColumns = [numStandardColumns]string{"CHR", "BP", "A1", "A2", "SNP", "P", "BETA", "SE", "FRQ", "N"}

const naToken = "NA"

func standardIndex(name string) int {
	for i, col := range StandardColumns {
		if col == name {
			return i
		}
	}
	return -1
}

type stdRow [numStandardColumns]string

// pipeline turns raw input rows into cleaned standard rows. It is
// built once per input file from the header, and holds no state that
// changes between chunks, so output does not depend on how the input
// is divided into chunks.
type pipeline struct {
	source  [numStandardColumns]int // input column index, or -1
	columns []int                   // standard columns to write, in order
	n       string                  // N for every row, unless source[colN] >= 0
	filter  *filter
}

func newPipeline(header []string, cfg *Config, counts SampleCounts, f *filter) (*pipeline, error) {
	if f == nil {
		f = &filter{keepAmbiguous: cfg.KeepAmbiguous}
	}
	pl := &pipeline{
		n:      strconv.Itoa(counts.N()),
		filter: f,
	}
	for i := range pl.source {
		pl.source[i] = -1
	}
	fixedN, fixed, err := cfg.fixedN()
	if err != nil {
		return nil, err
	} else if fixed {
		pl.n = strconv.Itoa(fixedN)
	}
	for i, name := range header {
		std, ok := cfg.Rename[name]
		if !ok {
			continue
		}
		idx := standardIndex(std)
		if idx < 0 || idx == colN {
			return nil, fmt.Errorf("column %q renamed to unknown standard column %q", name, std)
		}
		if pl.source[idx] >= 0 {
			return nil, fmt.Errorf("columns %q and %q both map to %s", header[pl.source[idx]], name, std)
		}
		pl.source[idx] = i
	}
	if cfg.N != "" && !fixed {
		for i, name := range header {
			if name == cfg.N {
				pl.source[colN] = i
				break
			}
		}
		if pl.source[colN] < 0 {
			return nil, fmt.Errorf("missing required column(s): N (expected input column %q)", cfg.N)
		}
	}

	required := map[int]bool{colP: true, colA1: true, colA2: true}
	if f.panel != nil {
		required[colSNP] = true
	}
	if f.regions != nil {
		required[colCHR] = true
		required[colBP] = true
	}
	for _, name := range cfg.Require {
		if idx := standardIndex(name); idx >= 0 && idx != colN {
			required[idx] = true
		}
	}
	var missing []string
	for idx := range required {
		if pl.source[idx] < 0 {
			missing = append(missing, StandardColumns[idx]+sourceHint(cfg.Rename, StandardColumns[idx]))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required column(s): %s", strings.Join(missing, ", "))
	}

	for idx := range StandardColumns {
		if idx == colN || pl.source[idx] >= 0 || !cfg.OmitMissing {
			pl.columns = append(pl.columns, idx)
		}
	}
	return pl, nil
}

func sourceHint(rename map[string]string, std string) string {
	var origs []string
	for orig, s := range rename {
		if s == std {
			origs = append(origs, orig)
		}
	}
	if len(origs) == 0 {
		return ""
	}
	return fmt.Sprintf(" (expected input column %q)", strings.Join(origs, ","))
}

// Header returns the output header line, including the newline.
func (pl *pipeline) Header() string {
	names := make([]string, len(pl.columns))
	for i, idx := range pl.columns {
		names[i] = StandardColumns[idx]
	}
	return strings.Join(names, "\t") + "\n"
}

// Apply renames, annotates and filters one chunk. It returns the kept
// rows in input order, the number of input rows and the number kept.
func (pl *pipeline) Apply(chunk [][]string) ([]stdRow, int, int) {
	var out []stdRow
	for _, raw := range chunk {
		var row stdRow
		for idx, src := range pl.source {
			if src >= 0 && src < len(raw) {
				row[idx] = raw[src]
			}
		}
		if pl.source[colN] < 0 {
			row[colN] = pl.n
		}
		if !pl.filter.keep(&row) {
			continue
		}
		for idx := range row {
			if row[idx] == "" {
				row[idx] = naToken
			}
		}
		out = append(out, row)
	}
	return out, len(chunk), len(out)
}

// AppendRow appends row to buf as one tab-delimited output line.
func (pl *pipeline) AppendRow(buf []byte, row *stdRow) []byte {
	for i, idx := range pl.columns {
		if i > 0 {
			buf = append(buf, '\t')
		}
		buf = append(buf, row[idx]...)
	}
	return append(buf, '\n')
}
