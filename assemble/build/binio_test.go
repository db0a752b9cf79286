// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package build

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/bioasm/assemble/binmeta"
	"github.com/grailbio/bioasm/assemble/fragment"
	"github.com/grailbio/bioasm/assemble/refpos"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, data, 0644))
	return path
}

func TestLoadBinReadsDataSpanAndSeIndex(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "bioasm-binio-test")
	defer cleanup()

	binData := []byte("0123456789abcdefghij")
	dataPath := writeTempFile(t, dir, "bin.data", binData)

	seEntry := fragment.SeFragmentIndex{FStrandPos: refpos.New(0, 5), DataOffset: 7}
	seBuf := make([]byte, fragment.SeFragmentIndexSize)
	seEntry.Marshal(seBuf)
	seIdxPath := writeTempFile(t, dir, "bin.se-idx", seBuf)

	meta := &binmeta.Metadata{
		DataPath:   dataPath,
		DataOffset: 5,
		DataSize:   10,
		SeIdxPath:  seIdxPath,
	}

	lb, err := LoadBin(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, []byte("56789abcde"), lb.buf.Bytes)
	require.Len(t, lb.se, 1)
	assert.Equal(t, int64(7), lb.se[0].DataOffset)
	assert.Equal(t, refpos.New(0, 5), lb.se[0].FStrandPos)
	assert.Nil(t, lb.fwd)
	assert.Nil(t, lb.rev)
}

func TestReadWholeEmptyPathIsNotAnError(t *testing.T) {
	data, err := readWhole(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, data)
}
