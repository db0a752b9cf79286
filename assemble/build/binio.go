// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import (
	"context"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/file"
	"github.com/grailbio/bioasm/assemble/binmeta"
	"github.com/grailbio/bioasm/assemble/fragment"
)

// loadedBin is the Load stage's output: the bin's raw fragment bytes plus
// whichever index side-file it has (spec.md §3 "fragment-index
// side-files" -- single-end bins carry an seIdx, paired bins carry an
// fIdx/rIdx pair).
type loadedBin struct {
	meta *binmeta.Metadata
	buf  *fragment.PackedFragmentBuffer

	se  []fragment.SeFragmentIndex
	fwd []fragment.FStrandFragmentIndex
	rev []fragment.RStrandOrShadowFragmentIndex
}

// readRange opens path, seeks to [offset, offset+size), and reads exactly
// size bytes.
func readRange(ctx context.Context, path string, offset, size int64) ([]byte, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := f.Reader(ctx)
	if offset != 0 {
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readWhole opens path and reads it in full, returning (nil, nil) if path
// is empty (a bin with no records of that index kind has no side file).
func readWhole(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return ioutil.ReadAll(f.Reader(ctx))
}

// LoadBin reads meta's bin.data span plus whichever index side-files it
// names, the way the bin sorter's "load a bin" step does before
// deduplication can begin (spec.md §4.7).
func LoadBin(ctx context.Context, meta *binmeta.Metadata) (*loadedBin, error) {
	data, err := readRange(ctx, meta.DataPath, meta.DataOffset, meta.DataSize)
	if err != nil {
		return nil, err
	}
	lb := &loadedBin{meta: meta, buf: fragment.NewPackedFragmentBuffer(data)}

	if seData, err := readWhole(ctx, meta.SeIdxPath); err != nil {
		return nil, err
	} else if seData != nil {
		lb.se = fragment.ReadSeFragmentIndex(seData)
	}
	if fData, err := readWhole(ctx, meta.FIdxPath); err != nil {
		return nil, err
	} else if fData != nil {
		lb.fwd = fragment.ReadFStrandFragmentIndex(fData)
	}
	if rData, err := readWhole(ctx, meta.RIdxPath); err != nil {
		return nil, err
	} else if rData != nil {
		lb.rev = fragment.ReadRStrandFragmentIndex(rData)
	}
	return lb, nil
}
