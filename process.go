// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// OutcomeKind classifies the result of processing one input file.
type OutcomeKind int

const (
	// Success means the output file and its done marker were written.
	Success OutcomeKind = iota
	// SkippedMissingMetadata means the phenotype has no sample counts.
	SkippedMissingMetadata
	// SkippedEmptyAfterFilter means no rows passed the filters, so no
	// output was kept.
	SkippedEmptyAfterFilter
	// Failure means the file could not be processed; see Err.
	Failure
)

var outcomeKindNames = map[OutcomeKind]string{
	Success:                 "success",
	SkippedMissingMetadata:  "skipped (no metadata)",
	SkippedEmptyAfterFilter: "skipped (empty after filtering)",
	Failure:                 "failed",
}

func (k OutcomeKind) String() string {
	if s, ok := outcomeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// FileOutcome is the result of processing one input file.
type FileOutcome struct {
	Input     string
	Phenotype string
	Kind      OutcomeKind
	RowsKept  int64
	RowsSeen  int64
	// Resumed is true if the output was continued from a previous
	// run's checkpoint.
	Resumed bool
	// Lambda is the λGC estimate from the rows written in this
	// run, or NaN.
	Lambda float64
	Err    error
}

func (o FileOutcome) String() string {
	switch o.Kind {
	case Success:
		s := fmt.Sprintf("%s: kept %d of %d rows", o.Phenotype, o.RowsKept, o.RowsSeen)
		if o.Resumed {
			s += " (resumed)"
		}
		if !math.IsNaN(o.Lambda) {
			s += fmt.Sprintf(", lambda_gc %.4f", o.Lambda)
		}
		return s
	case SkippedMissingMetadata:
		return fmt.Sprintf("%s: no metadata for phenotype, skipped %s", o.Phenotype, o.Input)
	case SkippedEmptyAfterFilter:
		return fmt.Sprintf("%s: no rows left after filtering %d rows, skipped", o.Phenotype, o.RowsSeen)
	default:
		return fmt.Sprintf("%s: %s: %v", o.Phenotype, o.Input, o.Err)
	}
}

// Processor cleans one input file at a time. It is safe for
// concurrent use: the metadata, panel and region mask it holds are
// only read.
type Processor struct {
	cfg    Config
	meta   Metadata
	filter *filter
	opener *opener

	// digest of the panel and region contents, hashed into every
	// fingerprint.
	filterDigest string
}

// NewProcessor returns a Processor using the given sample counts and
// optional reference panel and excluded regions (either can be nil).
// meta can be nil only if cfg.N is set.
func NewProcessor(cfg Config, meta Metadata, panel ReferencePanel, regions *RegionMask) *Processor {
	f := &filter{
		panel:         panel,
		keepAmbiguous: cfg.KeepAmbiguous,
		regions:       regions,
	}
	return &Processor{
		cfg:          cfg,
		meta:         meta,
		filter:       f,
		opener:       &opener{},
		filterDigest: f.digest(),
	}
}

func (p *Processor) Config() Config { return p.cfg }

// Close releases resources shared by all files, like the cloud
// storage client.
func (p *Processor) Close() error {
	return p.opener.Close()
}

// Process cleans infile into its phenotype's output file, resuming
// from a previous run's checkpoint if there is one. Errors are
// returned in the outcome, never as a panic or a separate value.
func (p *Processor) Process(ctx context.Context, infile string) FileOutcome {
	pheno := p.cfg.PhenotypeID(infile)
	outcome := FileOutcome{
		Input:     infile,
		Phenotype: pheno,
		Lambda:    math.NaN(),
	}
	// Without metadata (only allowed with an N override) every
	// phenotype is processed.
	counts, ok := p.meta[pheno]
	if !ok && p.meta != nil {
		outcome.Kind = SkippedMissingMetadata
		return outcome
	}
	err := p.process(ctx, infile, pheno, counts, &outcome)
	if err != nil {
		outcome.Kind = Failure
		outcome.Err = err
	}
	return outcome
}

func (p *Processor) process(ctx context.Context, infile, pheno string, counts SampleCounts, outcome *FileOutcome) error {
	cr, err := openChunkReader(ctx, p.opener, infile, p.cfg.ChunkSize, p.cfg.Separator)
	if err != nil {
		return err
	}
	defer cr.Close()
	pl, err := newPipeline(cr.Header(), &p.cfg, counts, p.filter)
	if err != nil {
		return fmt.Errorf("%s: %w", infile, err)
	}
	fingerprint, err := p.fingerprint(ctx, infile, cr.Header(), counts)
	if err != nil {
		return err
	}
	outfile := p.cfg.OutputPath(pheno)
	snk := openSink(outfile, pl, fingerprint)
	defer snk.Close()
	outcome.Resumed = snk.Resumed()

	seed, _ := strconv.ParseUint(fingerprint[:16], 16, 64)
	le := newLambdaEstimator(lambdaSampleSize, seed)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := cr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		if chunk = snk.Skip(chunk); len(chunk) == 0 {
			continue
		}
		rows, in, kept := pl.Apply(chunk)
		for i := range rows {
			if pv, ok := parsePvalue(rows[i][colP]); ok {
				le.Add(pv)
			}
		}
		if err := snk.Commit(rows, in); err != nil {
			return err
		}
		log.Debugf("%s: chunk of %d rows, kept %d (%d rows read)", pheno, in, kept, cr.Rows())
	}
	if snk.Skipping() {
		return fmt.Errorf("%s: input has %d rows, fewer than the %d rows consumed by a previous run", infile, cr.Rows(), snk.RowsConsumed())
	}
	outcome.RowsSeen = snk.RowsConsumed()
	outcome.RowsKept = snk.RowsKept()
	if snk.RowsKept() == 0 {
		outcome.Kind = SkippedEmptyAfterFilter
		return snk.Discard()
	}
	if err := snk.Finish(); err != nil {
		return err
	}
	if err := os.WriteFile(p.cfg.DonePath(pheno), nil, 0666); err != nil {
		return err
	}
	outcome.Kind = Success
	outcome.Lambda = le.Lambda()
	return nil
}

// fingerprint identifies everything that determines the content of an
// output file, other than chunk size. A checkpoint written under a
// different fingerprint is not resumed.
func (p *Processor) fingerprint(ctx context.Context, infile string, header []string, counts SampleCounts) (string, error) {
	size, err := p.opener.size(ctx, infile)
	if err != nil {
		return "", err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(h, "size=%d\n", size)
	fmt.Fprintf(h, "header=%q\n", header)
	fmt.Fprintf(h, "sep=%q\n", p.cfg.Separator)
	var origs []string
	for orig := range p.cfg.Rename {
		origs = append(origs, orig)
	}
	sort.Strings(origs)
	for _, orig := range origs {
		fmt.Fprintf(h, "rename=%q=%q\n", orig, p.cfg.Rename[orig])
	}
	fmt.Fprintf(h, "require=%q\n", p.cfg.Require)
	fmt.Fprintf(h, "omit-missing=%v keep-ambiguous=%v\n", p.cfg.OmitMissing, p.cfg.KeepAmbiguous)
	fmt.Fprintf(h, "n=%d n-override=%q\n", counts.N(), p.cfg.N)
	fmt.Fprintf(h, "filter=%s\n", p.filterDigest)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isDone reports whether pheno has a done marker from a previous run.
func (p *Processor) isDone(pheno string) (bool, error) {
	_, err := os.Stat(p.cfg.DonePath(pheno))
	if err == nil {
		return true, nil
	} else if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
