// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
)

// previewcmd prints the first few rows of an input file, and how its
// columns would be renamed, so column flags can be checked before a
// long run.
type previewcmd struct{}

func (cmd *previewcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	cfg := DefaultConfig()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	nrows := flags.Int("n", 3, "show first `N` rows")
	cfg.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() != 1 {
		flags.Usage()
		return 2
	} else if *nrows < 0 {
		err = fmt.Errorf("invalid -n=%d", *nrows)
		return 2
	}
	if err = cfg.Validate(); err != nil {
		return 2
	}

	o := &opener{}
	defer o.Close()
	bufw := bufio.NewWriter(stdout)
	err = preview(context.Background(), o, &cfg, flags.Arg(0), *nrows, bufw)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	return 0
}

func preview(ctx context.Context, o *opener, cfg *Config, fnm string, nrows int, w io.Writer) error {
	capacity := nrows
	if capacity < 1 {
		capacity = 1
	}
	cr, err := openChunkReader(ctx, o, fnm, capacity, cfg.Separator)
	if err != nil {
		return err
	}
	defer cr.Close()
	fmt.Fprintln(w, strings.Join(cr.Header(), "\t"))
	if nrows > 0 {
		chunk, err := cr.Next()
		if err != nil && err != io.EOF {
			return err
		}
		for _, row := range chunk {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "phenotype: %s\n", cfg.PhenotypeID(fnm))
	mapped := map[string]bool{}
	for _, name := range cr.Header() {
		if std, ok := cfg.Rename[name]; ok {
			fmt.Fprintf(w, "%s => %s\n", name, std)
			mapped[std] = true
		}
	}
	if n, fixed, err := cfg.fixedN(); err != nil {
		return err
	} else if fixed {
		fmt.Fprintf(w, "N = %d\n", n)
	} else if cfg.N != "" {
		for _, name := range cr.Header() {
			if name == cfg.N {
				fmt.Fprintf(w, "%s => N\n", name)
				mapped["N"] = true
				break
			}
		}
		if !mapped["N"] {
			fmt.Fprintf(w, "%q => N (not found)\n", cfg.N)
		}
	}
	var missing []string
	for _, std := range StandardColumns[:colN] {
		if !mapped[std] {
			missing = append(missing, std)
		}
	}
	if len(missing) > 0 {
		_, err = fmt.Fprintf(w, "no source column: %s\n", strings.Join(missing, " "))
	}
	return err
}
