// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Number of P values kept for estimating λGC.
const lambdaSampleSize = 100000

var chisquared = distuv.ChiSquared{K: 1}

// lambdaEstimator estimates the genomic control inflation factor
// (median observed χ² over median expected χ² with 1 degree of
// freedom) from a uniform reservoir sample of P values.
type lambdaEstimator struct {
	max    int
	seen   int64
	sample []float64
	rnd    *rand.Rand
}

func newLambdaEstimator(max int, seed uint64) *lambdaEstimator {
	return &lambdaEstimator{
		max: max,
		rnd: rand.New(rand.NewSource(seed)),
	}
}

func (le *lambdaEstimator) Add(p float64) {
	le.seen++
	if len(le.sample) < le.max {
		le.sample = append(le.sample, p)
		return
	}
	if j := le.rnd.Int63n(le.seen); j < int64(le.max) {
		le.sample[j] = p
	}
}

// Seen returns the number of P values added.
func (le *lambdaEstimator) Seen() int64 { return le.seen }

// Lambda returns the λGC estimate, or NaN if no values were added.
func (le *lambdaEstimator) Lambda() float64 {
	if len(le.sample) == 0 {
		return math.NaN()
	}
	chi2 := make([]float64, len(le.sample))
	for i, p := range le.sample {
		chi2[i] = chisquared.Quantile(1 - p)
	}
	sort.Float64s(chi2)
	return stat.Quantile(0.5, stat.Empirical, chi2, nil) / chisquared.Quantile(0.5)
}
