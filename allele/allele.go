// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package allele compares allele codes the way summary statistics
// harmonization needs: as unordered pairs, optionally across strands.
package allele

// Same reports whether {a1, a2} and {b1, b2} are the same unordered
// pair. Comparison is case-sensitive.
func Same(a1, a2, b1, b2 string) bool {
	return (a1 == b1 && a2 == b2) || (a1 == b2 && a2 == b1)
}

var complement = [256]byte{
	'A': 'T', 'T': 'A', 'C': 'G', 'G': 'C',
	'a': 'T', 't': 'A', 'c': 'G', 'g': 'C',
}

// Ambiguous reports whether {a1, a2} is {A,T} or {C,G} in any order
// and any case. Such pairs look identical when read from the opposite
// strand.
func Ambiguous(a1, a2 string) bool {
	if len(a1) != 1 || len(a2) != 1 {
		return false
	}
	c := complement[a1[0]]
	return c != 0 && c == upper(a2[0])
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}
