// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/carbocation/pfx"
	log "github.com/sirupsen/logrus"
)

// AllelePair is the pair of alleles a reference panel lists for a
// variant. Order is not significant.
type AllelePair struct {
	A1 string
	A2 string
}

// ReferencePanel maps variant IDs to their reference alleles (e.g. the
// HapMap3 w_hm3.snplist used by LDSC). Read-only once loaded.
type ReferencePanel map[string]AllelePair

// writeDigest writes the panel entries to w sorted by variant ID.
func (pnl ReferencePanel) writeDigest(w io.Writer) {
	ids := make([]string, 0, len(pnl))
	for id := range pnl {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "%q\t%q\t%q\n", id, pnl[id].A1, pnl[id].A2)
	}
}

func loadReferencePanel(ctx context.Context, o *opener, fnm string) (ReferencePanel, error) {
	rdr, err := o.zopen(ctx, fnm)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer rdr.Close()
	panel, err := readReferencePanel(rdr, fnm)
	if err != nil {
		return nil, err
	}
	log.Infof("loaded %d reference variants from %s", len(panel), fnm)
	return panel, nil
}

// readReferencePanel parses whitespace-delimited text with a header
// row containing SNP, A1 and A2. If a variant ID appears more than
// once, the first entry is used.
func readReferencePanel(rdr io.Reader, src string) (ReferencePanel, error) {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	colSNP, colA1, colA2 := -1, -1, -1
	panel := ReferencePanel{}
	dups := 0
	lineno := 0
	for scanner.Scan() {
		lineno++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if colSNP < 0 {
			for i, name := range fields {
				switch name {
				case "SNP":
					colSNP = i
				case "A1":
					colA1 = i
				case "A2":
					colA2 = i
				}
			}
			if colSNP < 0 || colA1 < 0 || colA2 < 0 {
				return nil, pfx.Err(fmt.Errorf("%s: header %q must include SNP, A1 and A2", src, fields))
			}
			continue
		}
		if len(fields) <= colSNP || len(fields) <= colA1 || len(fields) <= colA2 {
			return nil, pfx.Err(fmt.Errorf("%s line %d: too few fields (%d)", src, lineno, len(fields)))
		}
		id := fields[colSNP]
		if _, ok := panel[id]; ok {
			dups++
			continue
		}
		panel[id] = AllelePair{A1: fields[colA1], A2: fields[colA2]}
	}
	if err := scanner.Err(); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", src, err))
	}
	if colSNP < 0 {
		return nil, pfx.Err(fmt.Errorf("%s: empty reference panel", src))
	}
	if dups > 0 {
		log.Warnf("%s: %d duplicate variant IDs ignored (first entry kept)", src, dups)
	}
	return panel, nil
}
