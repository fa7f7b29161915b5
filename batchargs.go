// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"flag"
	"fmt"
)

// batchArgs selects one of several equal slices of the input list, so
// independent invocations can split a release between them.
type batchArgs struct {
	batch   int
	batches int
}

func (b *batchArgs) Flags(flags *flag.FlagSet) {
	flags.IntVar(&b.batches, "batches", 1, "number of batches")
	flags.IntVar(&b.batch, "batch", -1, "only do `N`th batch (-1 = all)")
}

func (b *batchArgs) Validate() error {
	if b.batches < 1 {
		return fmt.Errorf("invalid -batches=%d", b.batches)
	}
	if b.batch >= b.batches {
		return fmt.Errorf("invalid -batch=%d with -batches=%d", b.batch, b.batches)
	}
	return nil
}

// Slice returns the part of (sorted) in that belongs to the selected
// batch.
func (b *batchArgs) Slice(in []string) []string {
	if b.batches <= 1 || b.batch < 0 {
		return in
	}
	batchsize := (len(in) + b.batches - 1) / b.batches
	if batchsize*b.batch >= len(in) {
		return nil
	}
	out := in[batchsize*b.batch:]
	if len(out) > batchsize {
		out = out[:batchsize]
	}
	return out
}
