// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"bufio"
	"encoding/json"
	"io"
	"math"
	"os"
)

type fileStats struct {
	Input     string
	Phenotype string
	Outcome   string
	RowsKept  int64    `json:",omitempty"`
	RowsSeen  int64    `json:",omitempty"`
	Resumed   bool     `json:",omitempty"`
	LambdaGC  *float64 `json:",omitempty"`
	Error     string   `json:",omitempty"`
}

type runStats struct {
	Succeeded               int
	AlreadyDone             int
	SkippedMissingMetadata  int
	SkippedEmptyAfterFilter int
	Failed                  int
	RowsKept                int64
	RowsSeen                int64
	ElapsedSeconds          float64
	Files                   []fileStats
	AlreadyDoneFiles        []string `json:",omitempty"`
}

func (s *Summary) stats() runStats {
	ret := runStats{
		Succeeded:               s.Count(Success),
		AlreadyDone:             len(s.AlreadyDone),
		SkippedMissingMetadata:  s.Count(SkippedMissingMetadata),
		SkippedEmptyAfterFilter: s.Count(SkippedEmptyAfterFilter),
		Failed:                  s.Count(Failure),
		ElapsedSeconds:          s.Elapsed.Seconds(),
		Files:                   []fileStats{},
		AlreadyDoneFiles:        s.AlreadyDone,
	}
	for _, o := range s.Outcomes {
		fs := fileStats{
			Input:     o.Input,
			Phenotype: o.Phenotype,
			Outcome:   o.Kind.String(),
			RowsKept:  o.RowsKept,
			RowsSeen:  o.RowsSeen,
			Resumed:   o.Resumed,
		}
		if !math.IsNaN(o.Lambda) && !math.IsInf(o.Lambda, 0) {
			lambda := o.Lambda
			fs.LambdaGC = &lambda
		}
		if o.Err != nil {
			fs.Error = o.Err.Error()
		}
		ret.RowsKept += o.RowsKept
		ret.RowsSeen += o.RowsSeen
		ret.Files = append(ret.Files, fs)
	}
	return ret
}

// WriteJSON writes the summary, including per-file results, as JSON.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.stats())
}

func (s *Summary) writeJSONFile(fnm string) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	err = s.WriteJSON(bufw)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}
