// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gwasqc/sumclean/allele"
	"golang.org/x/crypto/blake2b"
)

// filter is the row-level QC applied after renaming. Checks run in a
// fixed order, and each one only sees rows that passed the previous
// ones: P validity, reference allele match, strand ambiguity, excluded
// regions.
type filter struct {
	// panel, if not nil, restricts output to variants listed in
	// the panel with the same (unordered) alleles.
	panel         ReferencePanel
	keepAmbiguous bool
	regions       *RegionMask
}

// digest returns a blake2b-256 hex digest of everything that decides
// which rows keep() passes.
func (f *filter) digest() string {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(h, "keep-ambiguous=%v\n", f.keepAmbiguous)
	fmt.Fprintf(h, "panel=%v\n", f.panel != nil)
	f.panel.writeDigest(h)
	fmt.Fprintf(h, "regions=%v\n", f.regions != nil)
	if f.regions != nil {
		f.regions.writeDigest(h)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (f *filter) keep(row *stdRow) bool {
	if _, ok := parsePvalue(row[colP]); !ok {
		return false
	}
	if f.panel != nil {
		ref, ok := f.panel[row[colSNP]]
		if !ok || !allele.Same(row[colA1], row[colA2], ref.A1, ref.A2) {
			return false
		}
	}
	if !f.keepAmbiguous && allele.Ambiguous(row[colA1], row[colA2]) {
		return false
	}
	if f.regions != nil {
		pos, err := strconv.Atoi(strings.TrimSpace(row[colBP]))
		if err == nil && f.regions.Check(row[colCHR], pos) {
			return false
		}
	}
	return true
}

// parsePvalue returns the numeric value of s and whether it is a
// usable p-value, i.e. a decimal number in (0, 1].
func parsePvalue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "xX_") {
		return 0, false
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(p) {
		return 0, false
	}
	return p, p > 0 && p <= 1
}
