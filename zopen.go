// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"github.com/xi2/xz"
	"google.golang.org/api/iterator"
)

var gsURLRe = regexp.MustCompile(`^gs://([^/]+)/?(.*)$`)

// opener opens input files on local disk or in Google Cloud Storage.
// The storage client is created on first use and shared by all
// workers.
type opener struct {
	mtx sync.Mutex
	gcs *storage.Client
}

func (o *opener) client(ctx context.Context) (*storage.Client, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if o.gcs == nil {
		log.Info("setting up Google Cloud Storage client")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		o.gcs = client
	}
	return o.gcs, nil
}

func (o *opener) Close() error {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if o.gcs == nil {
		return nil
	}
	err := o.gcs.Close()
	o.gcs = nil
	return err
}

// open returns the raw (possibly compressed) content of fnm.
func (o *opener) open(ctx context.Context, fnm string) (io.ReadCloser, error) {
	m := gsURLRe.FindStringSubmatch(fnm)
	if m == nil {
		return os.Open(fnm)
	}
	client, err := o.client(ctx)
	if err != nil {
		return nil, err
	}
	rdr, err := client.Bucket(m[1]).Object(m[2]).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return rdr, nil
}

// size returns the stored (compressed) size of fnm.
func (o *opener) size(ctx context.Context, fnm string) (int64, error) {
	m := gsURLRe.FindStringSubmatch(fnm)
	if m == nil {
		fi, err := os.Stat(fnm)
		if err != nil {
			return 0, err
		}
		return fi.Size(), nil
	}
	client, err := o.client(ctx)
	if err != nil {
		return 0, err
	}
	attrs, err := client.Bucket(m[1]).Object(m[2]).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", fnm, err)
	}
	return attrs.Size, nil
}

// list returns the sorted names of the files in dir (a local directory
// or a gs://bucket/prefix URL) whose base name starts with prefix.
func (o *opener) list(ctx context.Context, dir, prefix string) ([]string, error) {
	var names []string
	if m := gsURLRe.FindStringSubmatch(dir); m != nil {
		client, err := o.client(ctx)
		if err != nil {
			return nil, err
		}
		objprefix := m[2]
		if objprefix != "" && !strings.HasSuffix(objprefix, "/") {
			objprefix += "/"
		}
		it := client.Bucket(m[1]).Objects(ctx, &storage.Query{Prefix: objprefix + prefix, Delimiter: "/"})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				break
			} else if err != nil {
				return nil, fmt.Errorf("%s: list: %w", dir, err)
			}
			if attrs.Name == "" {
				// synthetic "subdirectory" entry
				continue
			}
			names = append(names, "gs://"+m[1]+"/"+attrs.Name)
		}
	} else {
		ents, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, ent := range ents {
			if ent.IsDir() || !strings.HasPrefix(ent.Name(), prefix) {
				continue
			}
			names = append(names, filepath.Join(dir, ent.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

// zopen returns a reader for the given file, transparently
// decompressing gzip/bgzip, xz, zstd and bzip2 content. The format is
// detected from the leading bytes, not the file name.
func (o *opener) zopen(ctx context.Context, fnm string) (io.ReadCloser, error) {
	f, err := o.open(ctx, fnm)
	if err != nil {
		return nil, err
	}
	rdr, err := decompress(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return rdr, nil
}

type compression int

const (
	uncompressed compression = iota
	gzipped
	xzipped
	zstdCompressed
	bzipped
)

var magic = []struct {
	sig []byte
	c   compression
}{
	{[]byte{0x1f, 0x8b}, gzipped},
	{[]byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, xzipped},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, zstdCompressed},
	{[]byte("BZh"), bzipped},
}

func sniff(bufr *bufio.Reader) (compression, error) {
	head, err := bufr.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) {
		return uncompressed, err
	}
	for _, m := range magic {
		if bytes.HasPrefix(head, m.sig) {
			return m.c, nil
		}
	}
	return uncompressed, nil
}

// zreader presents a decompressing reader and the underlying file as
// a single ReadCloser.
type zreader struct {
	io.Reader
	closers []func() error
}

func (zr *zreader) Close() error {
	var first error
	for _, closer := range zr.closers {
		if err := closer(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func decompress(f io.ReadCloser) (io.ReadCloser, error) {
	bufr := bufio.NewReaderSize(f, 4*1024*1024)
	c, err := sniff(bufr)
	if err != nil {
		return nil, err
	}
	zr := &zreader{}
	switch c {
	case gzipped:
		gz, err := pgzip.NewReader(bufr)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		zr.Reader = gz
		zr.closers = append(zr.closers, gz.Close)
	case xzipped:
		xzr, err := xz.NewReader(bufr, 0)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		zr.Reader = xzr
	case zstdCompressed:
		dec, err := zstd.NewReader(bufr)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		zr.Reader = dec
		zr.closers = append(zr.closers, func() error { dec.Close(); return nil })
	case bzipped:
		zr.Reader = bzip2.NewReader(bufr)
	default:
		zr.Reader = bufr
	}
	zr.closers = append(zr.closers, f.Close)
	return zr, nil
}
