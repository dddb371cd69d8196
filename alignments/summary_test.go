// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package alignments_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/biosv/alignments"
	"github.com/grailbio/biosv/reference"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const contigsPath = "../testdata/contigs.sam"

func checkContigs(t *testing.T, s *alignments.Summary) {
	expect.EQ(t, s.Dictionary, reference.Dictionary{{Name: "chr1", Length: 1200}, {Name: "chr2", Length: 900}})
	expect.EQ(t, s.Records, 4)
	expect.EQ(t, s.Mapped, 3)
	expect.EQ(t, s.Secondary, 0)
	expect.EQ(t, s.Supplementary, 1)
	expect.EQ(t, s.Contigs, 3)
	expect.EQ(t, s.Chimeric, 1)
}

func TestSummarizeSAM(t *testing.T) {
	s, err := alignments.Summarize(vcontext.Background(), contigsPath)
	assert.NoError(t, err)
	checkContigs(t, s)
	expect.EQ(t, s.String(), "4 records (3 mapped, 0 secondary, 1 supplementary), 3 contigs, 1 chimeric")
}

func TestSummarizeBAM(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	in, err := os.Open(contigsPath)
	assert.NoError(t, err)
	defer in.Close()
	sr, err := sam.NewReader(in)
	assert.NoError(t, err)

	// The extension is deliberately misleading; BAM is detected by content.
	bamPath := filepath.Join(tmpdir, "contigs.sam")
	out, err := os.Create(bamPath)
	assert.NoError(t, err)
	bw, err := bam.NewWriter(out, sr.Header(), 1)
	assert.NoError(t, err)
	for {
		rec, err := sr.Read()
		if err != nil {
			break
		}
		assert.NoError(t, bw.Write(rec))
	}
	assert.NoError(t, bw.Close())
	assert.NoError(t, out.Close())

	s, err := alignments.Summarize(vcontext.Background(), bamPath)
	assert.NoError(t, err)
	checkContigs(t, s)
}

func TestSummarizeErrors(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	noSQ := filepath.Join(tmpdir, "nosq.sam")
	assert.NoError(t, ioutil.WriteFile(noSQ, []byte("@HD\tVN:1.5\n"), 0644))
	_, err := alignments.Summarize(ctx, noSQ)
	assert.Regexp(t, err, "no @SQ lines")

	_, err = alignments.Summarize(ctx, filepath.Join(tmpdir, "missing.sam"))
	expect.NotNil(t, err)
}
