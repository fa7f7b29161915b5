// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Dispatcher runs a Processor on many files concurrently.
type Dispatcher struct {
	workers int
	proc    *Processor
}

// NewDispatcher returns a Dispatcher that processes up to workers
// files at a time. If workers < 1, DefaultWorkers() is used.
func NewDispatcher(workers int, proc *Processor) *Dispatcher {
	if workers < 1 {
		workers = DefaultWorkers()
	}
	return &Dispatcher{workers: workers, proc: proc}
}

func (d *Dispatcher) Workers() int { return d.workers }

// Summary collects the outcomes of one run.
type Summary struct {
	// Outcomes of the files that were dispatched, in input order,
	// followed by inputs rejected because an earlier input has the
	// same phenotype.
	Outcomes []FileOutcome
	// AlreadyDone lists input files skipped because their done
	// marker was present.
	AlreadyDone []string
	Elapsed     time.Duration
}

func (s *Summary) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Report writes a tally of outcomes to w, followed by one line for
// each file that was skipped or failed.
func (s *Summary) Report(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d succeeded, %d already done, %d skipped (no metadata), %d skipped (empty after filtering), %d failed\n",
		s.Count(Success), len(s.AlreadyDone), s.Count(SkippedMissingMetadata), s.Count(SkippedEmptyAfterFilter), s.Count(Failure))
	if err != nil {
		return err
	}
	for _, kind := range []OutcomeKind{SkippedMissingMetadata, SkippedEmptyAfterFilter, Failure} {
		for _, o := range s.Outcomes {
			if o.Kind != kind {
				continue
			}
			label := "warning"
			if kind == Failure {
				label = "error"
			}
			if _, err := fmt.Fprintf(w, "%s: %s\n", label, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run processes infiles, skipping any whose done marker already
// exists. Per-file problems are reported in the summary; the returned
// error is non-nil only if ctx was cancelled before all files were
// processed, in which case the summary covers the files that ran.
func (d *Dispatcher) Run(ctx context.Context, infiles []string) (*Summary, error) {
	starttime := time.Now()
	cfg := d.proc.Config()
	summary := &Summary{}
	var todo []string
	owner := map[string]string{}
	var dups []FileOutcome
	for _, infile := range infiles {
		pheno := cfg.PhenotypeID(infile)
		done, err := d.proc.isDone(pheno)
		if err != nil {
			log.Warnf("%s: checking done marker: %s", infile, err)
		}
		if done {
			log.Debugf("%s: already done", infile)
			summary.AlreadyDone = append(summary.AlreadyDone, infile)
			continue
		}
		// Only one worker may write a given output path.
		if first, ok := owner[pheno]; ok {
			dup := FileOutcome{
				Input:     infile,
				Phenotype: pheno,
				Kind:      Failure,
				Lambda:    math.NaN(),
				Err:       fmt.Errorf("phenotype %s also produced by %s", pheno, first),
			}
			logOutcome(dup)
			dups = append(dups, dup)
			continue
		}
		owner[pheno] = infile
		todo = append(todo, infile)
	}
	log.Infof("processing %d files (%d already done, %d duplicate phenotypes) with %d workers", len(todo), len(summary.AlreadyDone), len(dups), d.workers)

	outcomes := make([]FileOutcome, len(todo))
	dispatched := 0
	var finished int64
	throttle := throttle{Max: d.workers}
	for i, infile := range todo {
		if err := throttle.Acquire(ctx); err != nil {
			throttle.Report(err)
			break
		}
		dispatched++
		i, infile := i, infile
		go func() {
			defer throttle.Release()
			outcome := d.proc.Process(ctx, infile)
			outcomes[i] = outcome
			logOutcome(outcome)
			if outcome.Kind == Failure && ctx.Err() != nil {
				throttle.Report(ctx.Err())
			}
			n := atomic.AddInt64(&finished, 1)
			remain := int64(len(todo)) - n
			ttl := time.Since(starttime) * time.Duration(remain) / time.Duration(n)
			log.Infof("progress %d/%d (%d running), eta %v (%v)", n, len(todo), throttle.Running()-1, time.Now().Add(ttl).Format(time.RFC3339), ttl.Round(time.Second))
		}()
	}
	err := throttle.Wait()
	summary.Outcomes = append(outcomes[:dispatched], dups...)
	summary.Elapsed = time.Since(starttime)
	return summary, err
}

func logOutcome(o FileOutcome) {
	switch o.Kind {
	case Success:
		log.Info(o.String())
	case Failure:
		log.Error(o.String())
	default:
		log.Warn(o.String())
	}
}
