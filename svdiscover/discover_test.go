// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package svdiscover_test

import (
	"context"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/biosv/internal/s3fake"
	"github.com/grailbio/biosv/runner"
	"github.com/grailbio/biosv/stage"
	"github.com/grailbio/biosv/svargs"
	"github.com/grailbio/biosv/svdiscover"
	"github.com/grailbio/biosv/vcfcheck"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

const (
	testReference = "../testdata/reference.fasta"
	testContigs   = "../testdata/contigs.sam"
	testCNVCalls  = "../testdata/cnv_calls.vcf"
	expectedVCF   = "../testdata/expected_simple_del.vcf"
)

// fakePipeline returns a runner that checks its inputs are readable and
// writes the expected calls, with edit applied, to the non-complex VCF.
func fakePipeline(t *testing.T, calls *[]svargs.List, edit func(string) string) runner.Runner {
	golden, err := ioutil.ReadFile(expectedVCF)
	require.NoError(t, err)
	return runner.RunnerFunc(func(ctx context.Context, args svargs.List) (err error) {
		*calls = append(*calls, args)
		a, err := svargs.Parse(args)
		if err != nil {
			return err
		}
		for _, in := range []string{a.Reference, a.Input} {
			if _, err := file.Stat(ctx, in); err != nil {
				return err
			}
		}
		out, err := file.Create(ctx, a.OutputVCF())
		if err != nil {
			return err
		}
		defer file.CloseAndReport(ctx, out, &err)
		_, err = out.Writer(ctx).Write([]byte(edit(string(golden))))
		return err
	})
}

// renameContigs changes the annotations that depend on assembly.
func renameContigs(vcf string) string {
	return strings.NewReplacer(
		"CTG_NAMES=asm000001:tig00001", "CTG_NAMES=asm000007:tig00003",
		"TOTAL_MAPPINGS=1", "TOTAL_MAPPINGS=2",
	).Replace(vcf)
}

func compareOpts() vcfcheck.Opts {
	return vcfcheck.Opts{IgnoreAttributes: vcfcheck.DefaultIgnoredAttributes}
}

func testArgs(outputDir string) svargs.Args {
	return svargs.Args{
		Reference:    testReference,
		Input:        testContigs,
		OutputPrefix: outputDir + "/SvDiscoverFromLocalAssemblyContigAlignmentsSparkIntegrationTest",
		CNVCalls:     testCNVCalls,
	}
}

func TestDiscoverVariantsRunnableLocal(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "forLeft")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	var calls []svargs.List
	args := testArgs(tmpdir)
	res, err := svdiscover.Run(ctx, svdiscover.Opts{
		Args:      args,
		Runner:    fakePipeline(t, &calls, renameContigs),
		Preflight: true,
		Expected:  expectedVCF,
		Compare:   compareOpts(),
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	expect.EQ(t, calls[0], args.List())
	expect.EQ(t, res.Args, args.List())
	expect.EQ(t, res.OutputVCF, tmpdir+"/SvDiscoverFromLocalAssemblyContigAlignmentsSparkIntegrationTest_sample_NonComplex.vcf")
	expect.EQ(t, res.Comparison.Compared, 1)
	require.NotNil(t, res.Preflight)
	expect.EQ(t, res.Preflight.CNVCalls, 2)
}

func TestDiscoverVariantsRunnableMiniCluster(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	workDir := s3fake.Dir(t)
	stager := &stage.Stager{WorkDir: workDir}
	var calls []svargs.List
	res, err := svdiscover.Run(ctx, svdiscover.Opts{
		Args:       testArgs(tmpdir),
		Runner:     fakePipeline(t, &calls, renameContigs),
		Mode:       svdiscover.Staged,
		Stager:     stager,
		Expected:   expectedVCF,
		Compare:    compareOpts(),
		KeepStaged: true,
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	expect.EQ(t, calls[0], svargs.List{
		"-R", workDir + "/reference.fasta",
		"-I", workDir + "/hdfs.sam",
		"-O", workDir + "/test",
		"--cnv-calls", testCNVCalls,
	})
	vcfOnCluster := workDir + "/test_sample_NonComplex.vcf"
	expect.EQ(t, res.OutputVCF, vcfOnCluster)
	expect.True(t, s3fake.Exists(vcfOnCluster))
	expect.True(t, s3fake.Exists(workDir+"/hdfs.sam"))
	expect.EQ(t, res.Comparison.Compared, 1)

	// Without KeepStaged, the work directory is emptied and the output is
	// fetched back.
	workDir = s3fake.Dir(t)
	stager.WorkDir = workDir
	res, err = svdiscover.Run(ctx, svdiscover.Opts{
		Args:         testArgs(tmpdir),
		Runner:       fakePipeline(t, &calls, renameContigs),
		Mode:         svdiscover.Staged,
		Stager:       stager,
		Expected:     expectedVCF,
		Compare:      compareOpts(),
		FetchOutputs: true,
	})
	require.NoError(t, err)
	expect.EQ(t, res.OutputVCF, testArgs(tmpdir).OutputVCF())
	expect.False(t, s3fake.Exists(workDir+"/test_sample_NonComplex.vcf"))
	expect.False(t, s3fake.Exists(workDir+"/hdfs.sam"))
	expect.False(t, s3fake.Exists(workDir+"/reference.fasta"))

	r, err := vcfcheck.Equivalent(ctx, res.OutputVCF, expectedVCF, compareOpts())
	require.NoError(t, err)
	expect.Nil(t, r.Err())
}

func TestDiscoverDifferences(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	var calls []svargs.List
	longer := func(vcf string) string { return strings.Replace(vcf, "END=400", "END=410", 1) }
	res, err := svdiscover.Run(ctx, svdiscover.Opts{
		Args:     testArgs(tmpdir),
		Runner:   fakePipeline(t, &calls, longer),
		Expected: expectedVCF,
		Compare:  compareOpts(),
	})
	expect.True(t, errors.Is(errors.Precondition, err))
	require.NotNil(t, res.Comparison)
	expect.EQ(t, res.Comparison.Diffs, []vcfcheck.Diff{
		{Variant: "chr1:200-400:DEL", Field: "INFO/END", Actual: "410", Expected: "400"},
	})

	// Without an expected VCF, any output is accepted.
	_, err = svdiscover.Run(ctx, svdiscover.Opts{
		Args:   testArgs(tmpdir),
		Runner: fakePipeline(t, &calls, longer),
	})
	assert.NoError(t, err)
}

// withComplex wraps r to also write a complex VCF next to the non-complex
// one.
func withComplex(r runner.Runner) runner.Runner {
	return runner.RunnerFunc(func(ctx context.Context, args svargs.List) (err error) {
		if err = r.Run(ctx, args); err != nil {
			return err
		}
		prefix, _ := args.Value("-O")
		out, err := file.Create(ctx, prefix+svargs.ComplexSuffix)
		if err != nil {
			return err
		}
		defer file.CloseAndReport(ctx, out, &err)
		_, err = out.Writer(ctx).Write([]byte("##fileformat=VCFv4.2\n"))
		return err
	})
}

func TestDiscoverDifferencesStaged(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	var calls []svargs.List
	longer := func(vcf string) string { return strings.Replace(vcf, "END=400", "END=410", 1) }

	// The fetched copy is compared, so it outlives the work directory.
	workDir := s3fake.Dir(t)
	args := testArgs(tmpdir)
	res, err := svdiscover.Run(ctx, svdiscover.Opts{
		Args:         args,
		Runner:       withComplex(fakePipeline(t, &calls, longer)),
		Mode:         svdiscover.Staged,
		Stager:       &stage.Stager{WorkDir: workDir},
		Expected:     expectedVCF,
		Compare:      compareOpts(),
		FetchOutputs: true,
	})
	expect.True(t, errors.Is(errors.Precondition, err))
	expect.EQ(t, res.OutputVCF, args.OutputVCF())
	require.NotNil(t, res.Comparison)
	expect.EQ(t, len(res.Comparison.Diffs), 1)
	for _, path := range svargs.Outputs(args.OutputPrefix) {
		_, err = os.Stat(path)
		expect.NoError(t, err, path)
	}
	expect.False(t, s3fake.Exists(workDir+"/test_sample_NonComplex.vcf"))

	// Without a fetched copy, the differing output stays staged.
	workDir = s3fake.Dir(t)
	args = testArgs(tmpdir + "/unfetched")
	res, err = svdiscover.Run(ctx, svdiscover.Opts{
		Args:     args,
		Runner:   fakePipeline(t, &calls, longer),
		Mode:     svdiscover.Staged,
		Stager:   &stage.Stager{WorkDir: workDir},
		Expected: expectedVCF,
		Compare:  compareOpts(),
	})
	expect.True(t, errors.Is(errors.Precondition, err))
	expect.EQ(t, res.OutputVCF, workDir+"/test_sample_NonComplex.vcf")
	expect.True(t, s3fake.Exists(res.OutputVCF))
	expect.True(t, s3fake.Exists(workDir+"/hdfs.sam"))
	_, err = os.Stat(args.OutputVCF())
	expect.True(t, os.IsNotExist(err))
}

func TestDiscoverErrors(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	nop := runner.RunnerFunc(func(context.Context, svargs.List) error { return nil })
	_, err := svdiscover.Run(ctx, svdiscover.Opts{Args: testArgs(tmpdir), Runner: nop})
	expect.True(t, errors.Is(errors.NotExist, err))
	assert.Regexp(t, err, "did not write")

	failed := runner.RunnerFunc(func(context.Context, svargs.List) error {
		return errors.E(errors.Other, "pipeline failed")
	})
	_, err = svdiscover.Run(ctx, svdiscover.Opts{Args: testArgs(tmpdir), Runner: failed})
	assert.Regexp(t, err, "pipeline failed")

	_, err = svdiscover.Run(ctx, svdiscover.Opts{Args: testArgs(tmpdir), Runner: nop, Mode: svdiscover.Staged})
	expect.True(t, errors.Is(errors.Invalid, err))

	_, err = svdiscover.Run(ctx, svdiscover.Opts{Args: svargs.Args{Input: testContigs}, Runner: nop})
	expect.True(t, errors.Is(errors.Invalid, err))

	// Preflight stops the run before the pipeline starts.
	var calls []svargs.List
	args := testArgs(tmpdir)
	args.Reference = tmpdir + "/missing.fasta"
	_, err = svdiscover.Run(ctx, svdiscover.Opts{
		Args:      args,
		Runner:    fakePipeline(t, &calls, renameContigs),
		Preflight: true,
	})
	expect.NotNil(t, err)
	expect.EQ(t, len(calls), 0)
}

func TestMode(t *testing.T) {
	expect.EQ(t, svdiscover.Local.String(), "local")
	expect.EQ(t, svdiscover.Staged.String(), "staged")
	expect.EQ(t, svdiscover.Mode(7).String(), "Mode(7)")
}
