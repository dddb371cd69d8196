// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package preflight_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/biosv/preflight"
	"github.com/grailbio/biosv/svargs"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func goodArgs() svargs.Args {
	return svargs.Args{
		Reference:    "../testdata/reference.fasta",
		Input:        "../testdata/contigs.sam",
		OutputPrefix: "out",
		CNVCalls:     "../testdata/cnv_calls.vcf",
	}
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	status := m.Run()
	shutdown()
	os.Exit(status)
}

func TestCheck(t *testing.T) {
	ctx := vcontext.Background()
	r, err := preflight.Check(ctx, goodArgs())
	assert.NoError(t, err)
	expect.EQ(t, r.Reference.Names(), []string{"chr1", "chr2"})
	expect.EQ(t, r.Alignments.Records, 4)
	expect.EQ(t, r.Alignments.Chimeric, 1)
	expect.EQ(t, r.CNVCalls, 2)
	assert.HasSubstr(t, r.String(), "2 CNV calls")

	args := goodArgs()
	args.CNVCalls = ""
	r, err = preflight.Check(ctx, args)
	assert.NoError(t, err)
	expect.EQ(t, r.CNVCalls, 0)
}

func TestCheckErrors(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	args := goodArgs()
	args.OutputPrefix = ""
	_, err := preflight.Check(ctx, args)
	expect.True(t, errors.Is(errors.Invalid, err))

	// Alignments against a different build of chr1.
	sam, err := ioutil.ReadFile("../testdata/contigs.sam")
	assert.NoError(t, err)
	badSAM := filepath.Join(tmpdir, "bad.sam")
	assert.NoError(t, ioutil.WriteFile(badSAM, []byte(strings.Replace(string(sam), "LN:1200", "LN:1000", 1)), 0644))
	args = goodArgs()
	args.Input = badSAM
	_, err = preflight.Check(ctx, args)
	expect.True(t, errors.Is(errors.Precondition, err))
	assert.Regexp(t, err, `chr1\(1200 vs 1000\)`)

	// CNV calls on an unknown sequence.
	cnv, err := ioutil.ReadFile("../testdata/cnv_calls.vcf")
	assert.NoError(t, err)
	badCNV := filepath.Join(tmpdir, "bad_cnv.vcf")
	assert.NoError(t, ioutil.WriteFile(badCNV, []byte(strings.Replace(string(cnv), "chr2\t501", "chr3\t501", 1)), 0644))
	args = goodArgs()
	args.CNVCalls = badCNV
	_, err = preflight.Check(ctx, args)
	expect.True(t, errors.Is(errors.Precondition, err))
	assert.Regexp(t, err, "missing from the reference: chr3")

	args = goodArgs()
	args.Reference = filepath.Join(tmpdir, "missing.fasta")
	_, err = preflight.Check(ctx, args)
	expect.NotNil(t, err)
}
