// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"flag"
	"io"

	"gopkg.in/check.v1"
)

type configSuite struct{}

var _ = check.Suite(&configSuite{})

func (s *configSuite) TestFlags(c *check.C) {
	cfg := DefaultConfig()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	cfg.Flags(flags)
	err := flags.Parse([]string{"-sep", "space", "-N", "n_total", "-CHR", "chromosome", "-require", "BETA, SE", "-workers", "4", "-chunk-size", "1000"})
	c.Assert(err, check.IsNil)
	c.Check(cfg.Separator, check.Equals, ' ')
	c.Check(cfg.Rename["chromosome"], check.Equals, "CHR")
	_, ok := cfg.Rename["#chrom"]
	c.Check(ok, check.Equals, false)
	c.Check(cfg.Require, check.DeepEquals, []string{"BETA", "SE"})
	c.Check(cfg.Workers, check.Equals, 4)
	c.Check(cfg.ChunkSize, check.Equals, 1000)
	c.Check(cfg.N, check.Equals, "n_total")
	c.Check(cfg.Validate(), check.IsNil)
}

func (s *configSuite) TestSeparator(c *check.C) {
	for in, expect := range map[string]rune{`\t`: '\t', "tab": '\t', ",": ',', ";": ';', "|": '|', " ": ' ', `\s+`: WhitespaceSeparator, "whitespace": WhitespaceSeparator} {
		sep, err := parseSeparator(in)
		c.Check(err, check.IsNil)
		c.Check(sep, check.Equals, expect)
	}
	for _, in := range []string{"", ",,", `"`, "\n"} {
		_, err := parseSeparator(in)
		c.Check(err, check.NotNil, check.Commentf("%q", in))
	}
}

func (s *configSuite) TestValidate(c *check.C) {
	cfg := DefaultConfig()
	cfg.Rename["other_p"] = "P"
	c.Check(cfg.Validate(), check.ErrorMatches, `columns "other_p" and "pval" are both renamed to P|columns "pval" and "other_p" are both renamed to P`)

	cfg = DefaultConfig()
	cfg.Rename["n"] = "N"
	c.Check(cfg.Validate(), check.ErrorMatches, `.*not a standard column.*`)

	cfg = DefaultConfig()
	cfg.Require = []string{"ZSCORE"}
	c.Check(cfg.Validate(), check.ErrorMatches, `required column "ZSCORE" is not a standard column`)

	cfg = DefaultConfig()
	c.Check(cfg.setSource("N", "n"), check.NotNil)

	for _, n := range []string{"", "0", "5000", "007", "n_total", "N"} {
		cfg = DefaultConfig()
		cfg.N = n
		c.Check(cfg.Validate(), check.IsNil, check.Commentf("%q", n))
	}
	for _, n := range []string{"-1", "+5", "99999999999999999999999"} {
		cfg = DefaultConfig()
		cfg.N = n
		c.Check(cfg.Validate(), check.ErrorMatches, `invalid N .*`, check.Commentf("%q", n))
	}
}

func (s *configSuite) TestFixedN(c *check.C) {
	for in, expect := range map[string]struct {
		n     int
		fixed bool
	}{
		"":        {0, false},
		"5000":    {5000, true},
		"007":     {7, true},
		"0":       {0, true},
		"n_total": {0, false},
		"N2":      {0, false},
	} {
		cfg := Config{N: in}
		n, fixed, err := cfg.fixedN()
		c.Check(err, check.IsNil)
		c.Check(n, check.Equals, expect.n, check.Commentf("%q", in))
		c.Check(fixed, check.Equals, expect.fixed, check.Commentf("%q", in))
	}
}
