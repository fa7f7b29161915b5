// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"io"
	"strings"

	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

var finngenColumns = strings.Split(strings.TrimSuffix(finngenHeader, "\n"), "\t")

func (s *pipelineSuite) newPipeline(c *check.C, cfg Config, f *filter) *pipeline {
	pl, err := newPipeline(finngenColumns, &cfg, SampleCounts{Cases: 1000, Controls: 2000}, f)
	c.Assert(err, check.IsNil)
	return pl
}

// run reads tab-separated input through a chunkReader with the given
// capacity and returns the output text.
func (s *pipelineSuite) run(c *check.C, pl *pipeline, input string, capacity int) string {
	return s.runSep(c, pl, input, capacity, '\t')
}

func (s *pipelineSuite) runSep(c *check.C, pl *pipeline, input string, capacity int, sep rune) string {
	cr := newChunkReader("test", io.NopCloser(strings.NewReader(input)), capacity, sep)
	header, err := cr.records.Read()
	c.Assert(err, check.IsNil)
	c.Assert(header, check.DeepEquals, finngenColumns)
	out := []byte(pl.Header())
	for {
		chunk, err := cr.Next()
		if err == io.EOF {
			break
		}
		c.Assert(err, check.IsNil)
		c.Check(len(chunk) <= capacity, check.Equals, true)
		rows, _, _ := pl.Apply(chunk)
		for i := range rows {
			out = pl.AppendRow(out, &rows[i])
		}
	}
	return string(out)
}

func (s *pipelineSuite) TestPvalue(c *check.C) {
	for _, trial := range []struct {
		in     string
		expect bool
	}{
		{"0.5", true},
		{"1", true},
		{"1.0", true},
		{"3.2e-300", true},
		{" 0.01 ", true},
		{"0", false},
		{"0.0", false},
		{"-0.1", false},
		{"1.0000001", false},
		{"NA", false},
		{"nan", false},
		{"Inf", false},
		{"", false},
		{"bad", false},
		{"0x1p-2", false},
	} {
		_, ok := parsePvalue(trial.in)
		c.Check(ok, check.Equals, trial.expect, check.Commentf("%q", trial.in))
	}
}

func (s *pipelineSuite) TestRenameAndN(c *check.C) {
	pl := s.newPipeline(c, DefaultConfig(), nil)
	c.Check(pl.Header(), check.Equals, "CHR\tBP\tA1\tA2\tSNP\tP\tBETA\tSE\tFRQ\tN\n")
	rows, in, kept := pl.Apply([][]string{
		strings.Split(strings.TrimSuffix(finngenRow("1", 12345, "A", "C", "rs1", "0.5"), "\n"), "\t"),
		strings.Split(strings.TrimSuffix(finngenRow("2", 999, "G", "T", "", "1"), "\n"), "\t"),
	})
	c.Check(in, check.Equals, 2)
	c.Check(kept, check.Equals, 2)
	c.Assert(rows, check.HasLen, 2)
	c.Check(string(pl.AppendRow(nil, &rows[0])), check.Equals, "1\t12345\tC\tA\trs1\t0.5\t0.012\t0.004\t0.25\t3000\n")
	c.Check(string(pl.AppendRow(nil, &rows[1])), check.Equals, "2\t999\tT\tG\tNA\t1\t0.012\t0.004\t0.25\t3000\n")
}

func (s *pipelineSuite) TestPvalueBoundaries(c *check.C) {
	pl := s.newPipeline(c, DefaultConfig(), nil)
	input := finngenHeader +
		finngenRow("1", 1, "A", "C", "rs1", "0") +
		finngenRow("1", 2, "A", "C", "rs2", "1") +
		finngenRow("1", 3, "A", "C", "rs3", "1.0000001") +
		finngenRow("1", 4, "A", "C", "rs4", "NA")
	c.Check(s.run(c, pl, input, 10), check.Equals, pl.Header()+
		"1\t2\tC\tA\trs2\t1\t0.012\t0.004\t0.25\t3000\n")
}

func (s *pipelineSuite) TestStrandAmbiguity(c *check.C) {
	input := finngenHeader +
		finngenRow("1", 1, "A", "T", "rs1", "0.1") +
		finngenRow("1", 2, "a", "t", "rs2", "0.1") +
		finngenRow("1", 3, "T", "A", "rs3", "0.1") +
		finngenRow("1", 4, "C", "G", "rs4", "0.1") +
		finngenRow("1", 5, "A", "G", "rs5", "0.1")
	pl := s.newPipeline(c, DefaultConfig(), nil)
	c.Check(s.run(c, pl, input, 10), check.Equals, pl.Header()+
		"1\t5\tG\tA\trs5\t0.1\t0.012\t0.004\t0.25\t3000\n")

	cfg := DefaultConfig()
	cfg.KeepAmbiguous = true
	pl = s.newPipeline(c, cfg, nil)
	c.Check(strings.Count(s.run(c, pl, input, 10), "\n"), check.Equals, 6)
}

func (s *pipelineSuite) TestAlleleMerge(c *check.C) {
	panel := ReferencePanel{
		"rs1": {A1: "C", A2: "G"},
		"rs2": {A1: "C", A2: "G"},
		"rs4": {A1: "A", A2: "G"},
	}
	input := finngenHeader +
		finngenRow("1", 1, "C", "G", "rs1", "0.1") + // same pair, but ambiguous
		finngenRow("1", 2, "T", "G", "rs2", "0.1") + // different pair
		finngenRow("1", 3, "A", "G", "rs3", "0.1") + // not in panel
		finngenRow("1", 4, "G", "A", "rs4", "0.1")   // same pair, swapped
	pl := s.newPipeline(c, DefaultConfig(), &filter{panel: panel})
	c.Check(s.run(c, pl, input, 10), check.Equals, pl.Header()+
		"1\t4\tA\tG\trs4\t0.1\t0.012\t0.004\t0.25\t3000\n")

	pl = s.newPipeline(c, DefaultConfig(), &filter{panel: panel, keepAmbiguous: true})
	c.Check(s.run(c, pl, input, 10), check.Equals, pl.Header()+
		"1\t1\tG\tC\trs1\t0.1\t0.012\t0.004\t0.25\t3000\n"+
		"1\t4\tA\tG\trs4\t0.1\t0.012\t0.004\t0.25\t3000\n")
}

func (s *pipelineSuite) TestRegionExclusion(c *check.C) {
	regions := &RegionMask{}
	regions.Add("chr6", 28510120, 33480577)
	regions.Freeze()
	input := finngenHeader +
		finngenRow("6", 28510119, "A", "C", "rs1", "0.1") +
		finngenRow("6", 28510120, "A", "C", "rs2", "0.1") +
		finngenRow("6", 33480577, "A", "C", "rs3", "0.1") +
		finngenRow("7", 30000000, "A", "C", "rs4", "0.1")
	pl := s.newPipeline(c, DefaultConfig(), &filter{regions: regions})
	out := s.run(c, pl, input, 2)
	c.Check(strings.Contains(out, "rs1"), check.Equals, true)
	c.Check(strings.Contains(out, "rs2"), check.Equals, false)
	c.Check(strings.Contains(out, "rs3"), check.Equals, false)
	c.Check(strings.Contains(out, "rs4"), check.Equals, true)
}

func (s *pipelineSuite) TestChunkInvariance(c *check.C) {
	input := finngenHeader + syntheticRows(50)
	pl := s.newPipeline(c, DefaultConfig(), nil)
	expect := s.run(c, pl, input, 10000)
	c.Check(strings.Count(expect, "\n") > 1, check.Equals, true)
	c.Check(strings.Count(expect, "\n") < 51, check.Equals, true)
	for _, capacity := range []int{1, 3, 10, 49, 50, 51} {
		c.Check(s.run(c, pl, input, capacity), check.Equals, expect, check.Commentf("capacity %d", capacity))
	}
}

func (s *pipelineSuite) TestMissingRequiredColumn(c *check.C) {
	cfg := DefaultConfig()
	_, err := newPipeline([]string{"#chrom", "pos", "ref", "alt"}, &cfg, SampleCounts{}, nil)
	c.Check(err, check.ErrorMatches, `missing required column\(s\): P \(expected input column "pval"\)`)

	_, err = newPipeline([]string{"ref", "alt", "pval"}, &cfg, SampleCounts{}, &filter{panel: ReferencePanel{}})
	c.Check(err, check.ErrorMatches, `missing required column\(s\): SNP.*`)

	cfg.Require = []string{"BETA"}
	_, err = newPipeline([]string{"ref", "alt", "pval"}, &cfg, SampleCounts{}, nil)
	c.Check(err, check.ErrorMatches, `missing required column\(s\): BETA.*`)
}

func (s *pipelineSuite) TestMissingOptionalColumns(c *check.C) {
	header := []string{"ref", "alt", "pval", "rsids"}
	row := []string{"A", "C", "0.2", "rs7"}

	cfg := DefaultConfig()
	pl, err := newPipeline(header, &cfg, SampleCounts{Cases: 1, Controls: 2}, nil)
	c.Assert(err, check.IsNil)
	rows, _, _ := pl.Apply([][]string{row})
	c.Assert(rows, check.HasLen, 1)
	c.Check(string(pl.AppendRow(nil, &rows[0])), check.Equals, "NA\tNA\tC\tA\trs7\t0.2\tNA\tNA\tNA\t3\n")

	cfg.OmitMissing = true
	pl, err = newPipeline(header, &cfg, SampleCounts{Cases: 1, Controls: 2}, nil)
	c.Assert(err, check.IsNil)
	c.Check(pl.Header(), check.Equals, "A1\tA2\tSNP\tP\tN\n")
	rows, _, _ = pl.Apply([][]string{row})
	c.Assert(rows, check.HasLen, 1)
	c.Check(string(pl.AppendRow(nil, &rows[0])), check.Equals, "C\tA\trs7\t0.2\t3\n")
}

func (s *pipelineSuite) TestColumnOverride(c *check.C) {
	cfg := DefaultConfig()
	c.Assert(cfg.setSource("P", "p_value"), check.IsNil)
	c.Assert(cfg.setSource("A1", "effect_allele"), check.IsNil)
	c.Assert(cfg.setSource("A2", "other_allele"), check.IsNil)
	c.Check(cfg.Validate(), check.IsNil)
	pl, err := newPipeline([]string{"effect_allele", "other_allele", "p_value", "pval"}, &cfg, SampleCounts{Cases: 5}, nil)
	c.Assert(err, check.IsNil)
	rows, _, _ := pl.Apply([][]string{{"A", "G", "0.3", "0.9"}})
	c.Assert(rows, check.HasLen, 1)
	c.Check(rows[0][colP], check.Equals, "0.3")
	c.Check(rows[0][colA1], check.Equals, "A")
	c.Check(rows[0][colN], check.Equals, "5")
}

func (s *pipelineSuite) TestWhitespaceSeparator(c *check.C) {
	pl := s.newPipeline(c, DefaultConfig(), nil)
	tabbed := finngenHeader +
		finngenRow("1", 100, "C", "A", "rs1", "0.5") +
		finngenRow("2", 200, "G", "T", "rs2", "0.01") +
		finngenRow("3", 300, "T", "A", "rs3", "0.2")
	// Same table, aligned with runs of spaces, tabs and a trailing
	// carriage return, plus blank lines.
	var aligned strings.Builder
	for i, line := range strings.Split(strings.TrimSuffix(tabbed, "\n"), "\n") {
		if i == 1 {
			aligned.WriteString("\n   \n")
		}
		aligned.WriteString("  " + strings.Join(strings.Split(line, "\t"), "   \t ") + " \r\n")
	}
	expect := s.run(c, pl, tabbed, 10)
	c.Check(expect, check.Equals, pl.Header()+
		"1\t100\tA\tC\trs1\t0.5\t0.012\t0.004\t0.25\t3000\n"+
		"2\t200\tT\tG\trs2\t0.01\t0.012\t0.004\t0.25\t3000\n")
	for _, capacity := range []int{1, 2, 10} {
		c.Check(s.runSep(c, pl, aligned.String(), capacity, WhitespaceSeparator), check.Equals, expect)
	}

	// A single literal space splits runs into empty fields.
	for sep, expect := range map[rune][]string{
		' ':                 {"a", "", "b"},
		WhitespaceSeparator: {"a", "b"},
	} {
		cr := newChunkReader("test", io.NopCloser(strings.NewReader("a  b\n")), 10, sep)
		rec, err := cr.records.Read()
		c.Check(err, check.IsNil)
		c.Check(rec, check.DeepEquals, expect)
		_, err = cr.records.Read()
		c.Check(err, check.Equals, io.EOF)
	}
}

func (s *pipelineSuite) TestNOverride(c *check.C) {
	header := []string{"SNP", "A1", "A2", "P", "NMISS"}
	cfg := DefaultConfig()
	cfg.Rename = map[string]string{"SNP": "SNP", "A1": "A1", "A2": "A2", "P": "P"}
	counts := SampleCounts{Cases: 1000, Controls: 2000}
	input := [][]string{
		{"rs1", "A", "C", "0.5", "4321"},
		{"rs2", "A", "G", "0.1", ""},
	}

	// Fixed N replaces the metadata count.
	cfg.N = "0500"
	pl, err := newPipeline(header, &cfg, counts, nil)
	c.Assert(err, check.IsNil)
	rows, _, _ := pl.Apply(input)
	c.Assert(rows, check.HasLen, 2)
	c.Check(rows[0][colN], check.Equals, "500")
	c.Check(rows[1][colN], check.Equals, "500")

	// A column name gives each row its own N.
	cfg.N = "NMISS"
	pl, err = newPipeline(header, &cfg, counts, nil)
	c.Assert(err, check.IsNil)
	rows, _, _ = pl.Apply(input)
	c.Assert(rows, check.HasLen, 2)
	c.Check(rows[0][colN], check.Equals, "4321")
	c.Check(rows[1][colN], check.Equals, naToken)
	c.Check(string(pl.AppendRow(nil, &rows[0])), check.Equals, "NA\tNA\tA\tC\trs1\t0.5\tNA\tNA\tNA\t4321\n")

	// The named column is required.
	cfg.N = "n_total"
	_, err = newPipeline(header, &cfg, counts, nil)
	c.Check(err, check.ErrorMatches, `missing required column\(s\): N \(expected input column "n_total"\)`)

	// Without an override, N comes from the metadata.
	cfg.N = ""
	pl, err = newPipeline(header, &cfg, counts, nil)
	c.Assert(err, check.IsNil)
	rows, _, _ = pl.Apply(input)
	c.Check(rows[0][colN], check.Equals, "3000")
}
