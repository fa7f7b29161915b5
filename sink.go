// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

const checkpointVersion = 1

// checkpoint records how far a previous run got. It is saved after
// every committed chunk, and only describes data that has already
// been flushed and synced to the output file.
type checkpoint struct {
	Version      int    `json:"version"`
	Fingerprint  string `json:"fingerprint"`
	RowsConsumed int64  `json:"rows_consumed"` // raw input rows, kept or not
	RowsKept     int64  `json:"rows_kept"`
	OutputBytes  int64  `json:"output_bytes"` // including header
}

func checkpointPath(outfile string) string {
	return outfile + ".ckpt"
}

func readCheckpoint(fnm string) (checkpoint, error) {
	var ck checkpoint
	buf, err := os.ReadFile(fnm)
	if err != nil {
		return ck, err
	}
	err = json.Unmarshal(buf, &ck)
	if err != nil {
		return ck, fmt.Errorf("%s: %w", fnm, err)
	}
	if ck.RowsConsumed < 0 || ck.RowsKept < 0 || ck.OutputBytes < 0 || ck.RowsKept > ck.RowsConsumed {
		return ck, fmt.Errorf("%s: inconsistent checkpoint %+v", fnm, ck)
	}
	return ck, nil
}

// writeCheckpoint replaces fnm atomically, so a crash leaves either
// the old or the new checkpoint, never a mix.
func writeCheckpoint(fnm string, ck checkpoint) error {
	buf, err := json.Marshal(ck)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(fnm), "."+filepath.Base(fnm)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	_, err = f.Write(append(buf, '\n'))
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), fnm)
}

// sink appends cleaned rows to one output file and keeps its
// checkpoint current. A sink opened on top of a valid checkpoint
// resumes where the previous run stopped: the caller passes every raw
// chunk through Skip first, and the sink discards the rows that were
// already consumed.
type sink struct {
	path        string
	ckptPath    string
	pl          *pipeline
	fingerprint string

	state   checkpoint
	skip    int64 // raw rows still to discard
	resumed bool

	f       *os.File
	bufw    *bufio.Writer
	written int64
	buf     []byte
}

func openSink(path string, pl *pipeline, fingerprint string) *sink {
	s := &sink{
		path:        path,
		ckptPath:    checkpointPath(path),
		pl:          pl,
		fingerprint: fingerprint,
		state:       checkpoint{Version: checkpointVersion, Fingerprint: fingerprint},
	}
	ck, err := readCheckpoint(s.ckptPath)
	if errors.Is(err, os.ErrNotExist) {
		return s
	} else if err != nil {
		log.Warnf("%s: ignoring unusable checkpoint, starting over: %s", path, err)
		return s
	}
	if ck.Version != checkpointVersion || ck.Fingerprint != fingerprint {
		log.Warnf("%s: input or settings changed since checkpoint was written, starting over", path)
		return s
	}
	if ck.OutputBytes > 0 {
		fi, err := os.Stat(path)
		if err != nil || fi.Size() < ck.OutputBytes {
			log.Warnf("%s: output is missing or shorter than checkpoint (%d bytes), starting over", path, ck.OutputBytes)
			return s
		}
	}
	s.state = ck
	s.skip = ck.RowsConsumed
	s.written = ck.OutputBytes
	s.resumed = true
	log.Infof("%s: resuming after %d input rows (%d rows already written)", path, ck.RowsConsumed, ck.RowsKept)
	return s
}

// Resumed reports whether the sink picked up a previous run's
// checkpoint.
func (s *sink) Resumed() bool { return s.resumed }

// Skipping reports whether previously consumed input rows remain to be
// discarded.
func (s *sink) Skipping() bool { return s.skip > 0 }

// Skip discards the leading rows of chunk that a previous run already
// consumed, and returns the rest.
func (s *sink) Skip(chunk [][]string) [][]string {
	if s.skip <= 0 {
		return chunk
	}
	if int64(len(chunk)) <= s.skip {
		s.skip -= int64(len(chunk))
		return nil
	}
	chunk = chunk[s.skip:]
	s.skip = 0
	return chunk
}

func (s *sink) open() error {
	flags := os.O_WRONLY | os.O_CREATE
	if s.written == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.path, flags, 0666)
	if err != nil {
		return err
	}
	if s.written > 0 {
		// Drop anything written after the last commit.
		if err = f.Truncate(s.written); err == nil {
			_, err = f.Seek(s.written, io.SeekStart)
		}
		if err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", s.path, err)
		}
	}
	s.f = f
	s.bufw = bufio.NewWriterSize(f, 1<<20)
	if s.written == 0 {
		n, err := s.bufw.WriteString(s.pl.Header())
		s.written += int64(n)
		if err != nil {
			return err
		}
	}
	return nil
}

// Commit appends rows to the output, makes them durable, and then
// records consumed raw rows (kept or not) in the checkpoint.
func (s *sink) Commit(rows []stdRow, consumed int) error {
	if len(rows) > 0 && s.f == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	for i := range rows {
		s.buf = s.pl.AppendRow(s.buf[:0], &rows[i])
		n, err := s.bufw.Write(s.buf)
		s.written += int64(n)
		if err != nil {
			return fmt.Errorf("%s: %w", s.path, err)
		}
	}
	if s.f != nil {
		if err := s.bufw.Flush(); err != nil {
			return fmt.Errorf("%s: %w", s.path, err)
		}
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("%s: %w", s.path, err)
		}
	}
	next := s.state
	next.RowsConsumed += int64(consumed)
	next.RowsKept += int64(len(rows))
	next.OutputBytes = s.written
	if err := writeCheckpoint(s.ckptPath, next); err != nil {
		return fmt.Errorf("%s: saving checkpoint: %w", s.path, err)
	}
	s.state = next
	return nil
}

// RowsKept returns the number of rows in the output, including rows
// written by previous runs.
func (s *sink) RowsKept() int64 { return s.state.RowsKept }

// RowsConsumed returns the number of raw input rows committed so far,
// including rows consumed by previous runs.
func (s *sink) RowsConsumed() int64 { return s.state.RowsConsumed }

// Finish closes a complete output file and removes the checkpoint.
func (s *sink) Finish() error {
	if s.f == nil {
		// Nothing kept in this run. A resumed run may still have
		// rows on disk from before.
		if s.state.OutputBytes > 0 {
			if err := s.open(); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("%s: bug: Finish() called with no output", s.path)
		}
	}
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.ckptPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Discard removes the output file and checkpoint.
func (s *sink) Discard() error {
	s.Close()
	for _, fnm := range []string{s.path, s.ckptPath} {
		if err := os.Remove(fnm); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close flushes and closes the output file, leaving the checkpoint in
// place for a later run to resume from.
func (s *sink) Close() error {
	if s.f == nil {
		return nil
	}
	f := s.f
	s.f = nil
	err := s.bufw.Flush()
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	return nil
}
