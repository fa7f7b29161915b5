// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// chunkReader reads a delimited file with a header row in chunks of
// at most capacity rows. Rows are returned as read; no field is
// interpreted here, so the number of rows returned always matches the
// number of data rows in the file.
type chunkReader struct {
	name     string
	rc       io.ReadCloser
	records  recordReader
	header   []string
	capacity int
	rows     int64
}

func openChunkReader(ctx context.Context, o *opener, fnm string, capacity int, sep rune) (*chunkReader, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("invalid chunk capacity %d", capacity)
	}
	rc, err := o.zopen(ctx, fnm)
	if err != nil {
		return nil, err
	}
	cr := newChunkReader(fnm, rc, capacity, sep)
	cr.header, err = cr.records.Read()
	if err == io.EOF {
		rc.Close()
		return nil, fmt.Errorf("%s: no header row", fnm)
	} else if err != nil {
		rc.Close()
		return nil, fmt.Errorf("%s: reading header: %w", fnm, err)
	}
	return cr, nil
}

func newChunkReader(name string, rc io.ReadCloser, capacity int, sep rune) *chunkReader {
	cr := &chunkReader{
		name:     name,
		rc:       rc,
		capacity: capacity,
	}
	if sep == WhitespaceSeparator {
		cr.records = newFieldsReader(rc)
	} else {
		r := csv.NewReader(rc)
		r.Comma = sep
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		cr.records = r
	}
	return cr
}

func (cr *chunkReader) Header() []string { return cr.header }

// Rows returns the number of data rows returned so far.
func (cr *chunkReader) Rows() int64 { return cr.rows }

// Next returns the next chunk, or io.EOF after the last one. A short
// chunk is returned only at the end of the file.
func (cr *chunkReader) Next() ([][]string, error) {
	var chunk [][]string
	for len(chunk) < cr.capacity {
		rec, err := cr.records.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", cr.name, err)
		}
		if chunk == nil {
			chunk = make([][]string, 0, chunkAlloc(cr.capacity))
		}
		chunk = append(chunk, rec)
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	cr.rows += int64(len(chunk))
	return chunk, nil
}

func (cr *chunkReader) Close() error {
	return cr.rc.Close()
}

func chunkAlloc(capacity int) int {
	if capacity > 65536 {
		return 65536
	}
	return capacity
}

// recordReader is implemented by *csv.Reader and *fieldsReader.
type recordReader interface {
	Read() ([]string, error)
}

// fieldsReader splits each line on runs of whitespace. Blank lines
// are skipped, as csv.Reader does.
type fieldsReader struct {
	scanner *bufio.Scanner
	line    int
}

func newFieldsReader(r io.Reader) *fieldsReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &fieldsReader{scanner: scanner}
}

func (fr *fieldsReader) Read() ([]string, error) {
	for fr.scanner.Scan() {
		fr.line++
		if fields := strings.Fields(fr.scanner.Text()); len(fields) > 0 {
			return fields, nil
		}
	}
	if err := fr.scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", fr.line+1, err)
	}
	return nil, io.EOF
}
