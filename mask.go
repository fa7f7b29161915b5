// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	log "github.com/sirupsen/logrus"
)

type interval struct {
	start int // 1-based, inclusive
	end   int // inclusive
}

// RegionMask is a set of genomic intervals. Add intervals, call
// Freeze, then Check positions from any number of goroutines.
type RegionMask struct {
	intervals map[string][]interval
	frozen    bool
}

// normalizeChrom maps "chr1", "CHR1" and "1" to the same key.
func normalizeChrom(chrom string) string {
	chrom = strings.TrimSpace(chrom)
	if len(chrom) > 3 && strings.EqualFold(chrom[:3], "chr") {
		chrom = chrom[3:]
	}
	return strings.ToUpper(chrom)
}

// Add adds the 1-based closed interval [start, end] on chrom.
func (m *RegionMask) Add(chrom string, start, end int) {
	if m.frozen {
		panic("bug: (*RegionMask)Add() called after Freeze()")
	}
	if m.intervals == nil {
		m.intervals = map[string][]interval{}
	}
	key := normalizeChrom(chrom)
	m.intervals[key] = append(m.intervals[key], interval{start, end})
}

// Freeze sorts and merges the intervals added so far.
func (m *RegionMask) Freeze() {
	for chrom, in := range m.intervals {
		sort.Slice(in, func(i, j int) bool { return in[i].start < in[j].start })
		merged := in[:0]
		for _, iv := range in {
			if n := len(merged); n > 0 && iv.start <= merged[n-1].end+1 {
				if iv.end > merged[n-1].end {
					merged[n-1].end = iv.end
				}
				continue
			}
			merged = append(merged, iv)
		}
		m.intervals[chrom] = merged
	}
	m.frozen = true
}

// writeDigest writes the frozen intervals to w in a canonical order.
func (m *RegionMask) writeDigest(w io.Writer) {
	chroms := make([]string, 0, len(m.intervals))
	for chrom := range m.intervals {
		chroms = append(chroms, chrom)
	}
	sort.Strings(chroms)
	for _, chrom := range chroms {
		for _, iv := range m.intervals[chrom] {
			fmt.Fprintf(w, "%q\t%d\t%d\n", chrom, iv.start, iv.end)
		}
	}
}

// Check reports whether chrom:pos falls inside any interval.
func (m *RegionMask) Check(chrom string, pos int) bool {
	if !m.frozen {
		panic("bug: (*RegionMask)Check() called before Freeze()")
	}
	ivs := m.intervals[normalizeChrom(chrom)]
	i := sort.Search(len(ivs), func(i int) bool { return ivs[i].end >= pos })
	return i < len(ivs) && ivs[i].start <= pos
}

// Len returns the number of (merged, once frozen) intervals.
func (m *RegionMask) Len() int {
	n := 0
	for _, ivs := range m.intervals {
		n += len(ivs)
	}
	return n
}

// readBED reads chrom/start/end from a BED file (0-based, half-open)
// into a frozen mask. Header, track and comment lines are skipped.
func readBED(rdr io.Reader, src string) (*RegionMask, error) {
	m := &RegionMask{}
	scanner := bufio.NewScanner(rdr)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, pfx.Err(fmt.Errorf("%s line %d: expected at least 3 fields, got %d", src, lineno, len(fields)))
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("%s line %d: start: %w", src, lineno, err))
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("%s line %d: end: %w", src, lineno, err))
		}
		if end <= start {
			continue
		}
		m.Add(fields[0], start+1, end)
	}
	if err := scanner.Err(); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", src, err))
	}
	m.Freeze()
	return m, nil
}

func loadBED(ctx context.Context, o *opener, fnm string) (*RegionMask, error) {
	rdr, err := o.zopen(ctx, fnm)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer rdr.Close()
	m, err := readBED(rdr, fnm)
	if err != nil {
		return nil, err
	}
	log.Infof("loaded %d excluded regions from %s", m.Len(), fnm)
	return m, nil
}
