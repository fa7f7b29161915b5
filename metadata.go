// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/csimplestring/go-csv/detector"
	"github.com/extrame/xls"
	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

// SampleCounts holds the case/control counts for one phenotype.
type SampleCounts struct {
	Cases    int
	Controls int
}

// N returns the total sample size.
func (sc SampleCounts) N() int { return sc.Cases + sc.Controls }

// Metadata maps phenotype IDs to sample counts. It is never modified
// after loading, so workers share it without locking.
type Metadata map[string]SampleCounts

// Column names expected in the metadata table.
const (
	metaPhenocode   = "phenocode"
	metaNumCases    = "num_cases"
	metaNumControls = "num_controls"
)

type metadataRow struct {
	Phenocode   string `csv:"phenocode"`
	NumCases    string `csv:"num_cases"`
	NumControls string `csv:"num_controls"`
}

// add parses row and records it, unless the phenotype is already
// known or its counts are not usable.
func (m Metadata) add(row metadataRow, src string) {
	pheno := strings.TrimSpace(row.Phenocode)
	if pheno == "" {
		return
	}
	if _, dup := m[pheno]; dup {
		log.Warnf("%s: duplicate phenocode %q, keeping first entry", src, pheno)
		return
	}
	cases, ok := parseCount(row.NumCases)
	if !ok {
		log.Warnf("%s: phenocode %q has unusable %s %q, omitting", src, pheno, metaNumCases, row.NumCases)
		return
	}
	controls, ok := parseCount(row.NumControls)
	if !ok {
		log.Warnf("%s: phenocode %q has unusable %s %q, omitting", src, pheno, metaNumControls, row.NumControls)
		return
	}
	m[pheno] = SampleCounts{Cases: cases, Controls: controls}
}

// parseCount accepts non-negative integers, including spreadsheet
// renderings like "1234.0".
func parseCount(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// loadMetadata reads the phenotype metadata table. Files named *.xls
// are read as Excel workbooks (first sheet); anything else is treated
// as delimited text, possibly compressed, with the delimiter detected
// from the content.
func loadMetadata(ctx context.Context, o *opener, fnm string) (Metadata, error) {
	var m Metadata
	var err error
	if strings.HasSuffix(strings.ToLower(fnm), ".xls") {
		m, err = loadMetadataXLS(fnm)
	} else {
		var rdr io.ReadCloser
		rdr, err = o.zopen(ctx, fnm)
		if err != nil {
			return nil, pfx.Err(err)
		}
		defer rdr.Close()
		m, err = readMetadata(rdr, fnm)
	}
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, pfx.Err(fmt.Errorf("%s: no usable metadata rows", fnm))
	}
	log.Infof("loaded sample counts for %d phenotypes from %s", len(m), fnm)
	return m, nil
}

func readMetadata(rdr io.Reader, src string) (Metadata, error) {
	buf, err := io.ReadAll(rdr)
	if err != nil {
		return nil, pfx.Err(err)
	}
	delim := ','
	if found := detector.New().DetectDelimiter(bytes.NewReader(buf), '"'); len(found) > 0 && len(found[0]) > 0 {
		delim = rune(found[0][0])
	} else if firstline, _, _ := bytes.Cut(buf, []byte{'\n'}); bytes.IndexByte(firstline, '\t') >= 0 {
		delim = '\t'
	}
	newReader := func() *csv.Reader {
		r := csv.NewReader(bytes.NewReader(buf))
		r.Comma = delim
		r.LazyQuotes = true
		r.TrimLeadingSpace = true
		return r
	}
	header, err := newReader().Read()
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: reading header: %w", src, err))
	}
	if err := checkMetadataHeader(header, src); err != nil {
		return nil, err
	}
	var rows []metadataRow
	if err := gocsv.UnmarshalCSV(newReader(), &rows); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", src, err))
	}
	m := Metadata{}
	for _, row := range rows {
		m.add(row, src)
	}
	return m, nil
}

func checkMetadataHeader(header []string, src string) error {
	have := map[string]bool{}
	for _, h := range header {
		have[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, want := range []string{metaPhenocode, metaNumCases, metaNumControls} {
		if !have[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return pfx.Err(fmt.Errorf("%s: missing column(s) %s in header %q", src, strings.Join(missing, ", "), header))
	}
	return nil
}

func loadMetadataXLS(fnm string) (Metadata, error) {
	wb, err := xls.Open(fnm, "utf-8")
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", fnm, err))
	}
	if wb.NumSheets() < 1 {
		return nil, pfx.Err(fmt.Errorf("%s: workbook has no sheets", fnm))
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, pfx.Err(fmt.Errorf("%s: cannot read first sheet", fnm))
	}
	hdr := sheet.Row(0)
	if hdr == nil {
		return nil, pfx.Err(fmt.Errorf("%s: first sheet has no header row", fnm))
	}
	var header []string
	for col := 0; col <= hdr.LastCol(); col++ {
		header = append(header, strings.TrimSpace(hdr.Col(col)))
	}
	if err := checkMetadataHeader(header, fnm); err != nil {
		return nil, err
	}
	colidx := map[string]int{}
	for col, name := range header {
		if _, ok := colidx[name]; !ok {
			colidx[name] = col
		}
	}
	m := Metadata{}
	for rowID := 1; rowID <= int(sheet.MaxRow); rowID++ {
		row := sheet.Row(rowID)
		if row == nil {
			continue
		}
		m.add(metadataRow{
			Phenocode:   row.Col(colidx[metaPhenocode]),
			NumCases:    row.Col(colidx[metaNumCases]),
			NumControls: row.Col(colidx[metaNumControls]),
		}, fnm)
	}
	return m, nil
}
