// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

type cleancmd struct {
	cfg Config
	batchArgs
}

func (cmd *cleancmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	cmd.cfg = DefaultConfig()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	metadataFile := flags.String("metadata", "", "phenotype metadata `file` (.xls, or delimited text) with phenocode, num_cases and num_controls columns")
	panelFile := flags.String("merge-alleles", "", "keep only variants listed with matching alleles in reference panel `file` (SNP, A1, A2 columns)")
	regionsFile := flags.String("exclude-regions", "", "drop variants in regions listed in BED `file`")
	inputDir := flags.String("input-dir", "", "process files in `dir` (local path or gs://bucket/prefix) whose names start with -prefix")
	summaryFile := flags.String("summary-json", "", "write run summary to `file`")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	profileDir := flags.String("profile-dir", "", "write CPU and heap profiles to `dir` once a minute")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	cmd.cfg.Flags(flags)
	cmd.batchArgs.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *metadataFile == "" && cmd.cfg.N == "" {
		err = errors.New("cannot clean without -metadata or -N argument")
		return 2
	} else if *inputDir == "" && flags.NArg() == 0 {
		flags.Usage()
		return 2
	}
	if err = cmd.cfg.Validate(); err != nil {
		return 2
	}
	if err = cmd.batchArgs.Validate(); err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *profileDir != "" {
		go writeProfilesPeriodically(ctx, *profileDir, time.Minute)
	}

	o := &opener{}
	defer o.Close()
	var meta Metadata
	if *metadataFile != "" {
		meta, err = loadMetadata(ctx, o, *metadataFile)
		if err != nil {
			return 1
		}
	}
	var panel ReferencePanel
	if *panelFile != "" {
		panel, err = loadReferencePanel(ctx, o, *panelFile)
		if err != nil {
			return 1
		}
	}
	var regions *RegionMask
	if *regionsFile != "" {
		regions, err = loadBED(ctx, o, *regionsFile)
		if err != nil {
			return 1
		}
	}

	infiles, err := cmd.inputFiles(ctx, o, *inputDir, flags.Args())
	if err != nil {
		return 1
	}
	if len(infiles) == 0 {
		err = errors.New("no input files")
		return 1
	}
	err = os.MkdirAll(cmd.cfg.OutputDir, 0777)
	if err != nil {
		return 1
	}

	proc := NewProcessor(cmd.cfg, meta, panel, regions)
	defer proc.Close()
	summary, runErr := NewDispatcher(cmd.cfg.Workers, proc).Run(ctx, infiles)
	err = summary.Report(stdout)
	if err != nil {
		return 1
	}
	if *summaryFile != "" {
		err = summary.writeJSONFile(*summaryFile)
		if err != nil {
			return 1
		}
	}
	if runErr != nil {
		err = runErr
		return 1
	}
	return 0
}

// inputFiles returns the sorted, de-duplicated list of input files
// named on the command line or found in dir, limited to the selected
// batch.
func (cmd *cleancmd) inputFiles(ctx context.Context, o *opener, dir string, args []string) ([]string, error) {
	infiles := append([]string(nil), args...)
	if dir != "" {
		found, err := o.list(ctx, dir, cmd.cfg.Prefix)
		if err != nil {
			return nil, err
		}
		for _, fnm := range found {
			if strings.HasSuffix(fnm, ".tbi") || strings.HasSuffix(fnm, ".csi") {
				// index files published alongside the data
				continue
			}
			infiles = append(infiles, fnm)
		}
	}
	sort.Strings(infiles)
	uniq := infiles[:0]
	for _, fnm := range infiles {
		if len(uniq) == 0 || fnm != uniq[len(uniq)-1] {
			uniq = append(uniq, fnm)
		}
	}
	return cmd.batchArgs.Slice(uniq), nil
}
