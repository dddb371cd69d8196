// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package svdiscover runs structural-variant discovery from locally
// assembled contig alignments, and optionally checks the resulting VCF
// against a golden file.
//
// A run is either Local, where the pipeline reads and writes the paths it
// is given, or Staged, where the inputs are first copied into a working
// directory on shared storage and the pipeline writes its outputs there:
//
//   r, err := svdiscover.Run(ctx, svdiscover.Opts{
//     Args:     svargs.Args{Reference: ref, Input: contigs, OutputPrefix: out},
//     Mode:     svdiscover.Staged,
//     Stager:   &stage.Stager{WorkDir: "s3://bucket/work"},
//     Expected: "expected_simple_del.vcf",
//     Compare:  vcfcheck.Opts{IgnoreAttributes: vcfcheck.DefaultIgnoredAttributes},
//   })
package svdiscover

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/biosv/preflight"
	"github.com/grailbio/biosv/runner"
	"github.com/grailbio/biosv/stage"
	"github.com/grailbio/biosv/svargs"
	"github.com/grailbio/biosv/vcfcheck"
)

// Mode selects where the pipeline reads and writes.
type Mode int

const (
	// Local runs the pipeline on the paths given in Opts.Args.
	Local Mode = iota
	// Staged copies the inputs into Opts.Stager.WorkDir first.
	Staged
)

func (m Mode) String() string {
	switch m {
	case Local:
		return "local"
	case Staged:
		return "staged"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Opts configures Run.
type Opts struct {
	Args svargs.Args
	// Runner runs the pipeline. Defaults to an ExecRunner with default
	// settings.
	Runner runner.Runner
	Mode   Mode
	// Stager is required in Staged mode.
	Stager *stage.Stager
	// Preflight validates the inputs before running.
	Preflight bool
	// Expected, if set, is the golden VCF the output must be equivalent to.
	Expected string
	// Compare configures the comparison against Expected.
	Compare vcfcheck.Opts
	// KeepStaged leaves staged inputs and outputs in place after a Staged
	// run. They are also kept when the output differs from Expected and
	// was not fetched.
	KeepStaged bool
	// FetchOutputs copies the outputs of a Staged run back under
	// Args.OutputPrefix.
	FetchOutputs bool
}

// Result describes a completed run.
type Result struct {
	// Args is the argument list the pipeline ran with.
	Args svargs.List
	// OutputVCF is the non-complex VCF written by the pipeline. After a
	// Staged run it is the fetched copy if FetchOutputs was set, and is
	// otherwise removed unless KeepStaged was set or the comparison
	// failed.
	OutputVCF  string
	Preflight  *preflight.Report
	Comparison *vcfcheck.Result
}

// Run runs the pipeline once as configured by opts. A nil error means the
// pipeline succeeded, wrote its output, and (if Expected is set) the output
// is equivalent to Expected.
func Run(ctx context.Context, opts Opts) (res *Result, err error) {
	if err = opts.Args.Validate(); err != nil {
		return nil, err
	}
	res = &Result{}
	if opts.Preflight {
		if res.Preflight, err = preflight.Check(ctx, opts.Args); err != nil {
			return res, err
		}
	}
	args := opts.Args.List()
	res.OutputVCF = opts.Args.OutputVCF()
	switch opts.Mode {
	case Local:
	case Staged:
		if opts.Stager == nil {
			return res, errors.E(errors.Invalid, "svdiscover: staged mode needs a Stager")
		}
		var st *stage.Staged
		if args, st, err = opts.Stager.Stage(ctx, args); err != nil {
			return res, err
		}
		res.OutputVCF = st.OutputVCF
		if !opts.KeepStaged {
			defer func() {
				// A differing output is kept for inspection unless a copy
				// was fetched.
				if res.Comparison != nil && len(res.Comparison.Diffs) > 0 && !opts.FetchOutputs {
					log.Error.Printf("svdiscover: keeping staged files in %s", opts.Stager.WorkDir)
					return
				}
				if e := opts.Stager.Cleanup(ctx, st); e != nil {
					log.Error.Printf("svdiscover: cleaning up %s: %v", opts.Stager.WorkDir, e)
				}
			}()
		}
	default:
		return res, errors.E(errors.Invalid, fmt.Sprintf("svdiscover: unknown mode %v", opts.Mode))
	}
	res.Args = args

	r := opts.Runner
	if r == nil {
		r = &runner.ExecRunner{}
	}
	log.Printf("svdiscover: %s run: %v", opts.Mode, args)
	if err = r.Run(ctx, args); err != nil {
		return res, err
	}
	if _, err = file.Stat(ctx, res.OutputVCF); err != nil {
		return res, errors.E(err, fmt.Sprintf("svdiscover: pipeline did not write %s", res.OutputVCF))
	}
	if opts.Mode == Staged && opts.FetchOutputs {
		if res.OutputVCF, err = fetch(ctx, res.OutputVCF, opts.Args.OutputPrefix); err != nil {
			return res, err
		}
	}
	if opts.Expected != "" {
		if res.Comparison, err = vcfcheck.Equivalent(ctx, res.OutputVCF, opts.Expected, opts.Compare); err != nil {
			return res, err
		}
		if err = res.Comparison.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// fetch copies the staged outputs named after the staged non-complex VCF
// to prefix, and returns the fetched non-complex VCF. The complex VCF is
// optional.
func fetch(ctx context.Context, stagedVCF, prefix string) (string, error) {
	stagedPrefix := stagedVCF[:len(stagedVCF)-len(svargs.NonComplexSuffix)]
	staged, local := svargs.Outputs(stagedPrefix), svargs.Outputs(prefix)
	for i := range staged {
		if i > 0 {
			if _, err := file.Stat(ctx, staged[i]); err != nil {
				continue
			}
		}
		if _, _, err := stage.Copy(ctx, local[i], staged[i]); err != nil {
			return "", err
		}
		log.Printf("svdiscover: fetched %s", local[i])
	}
	return svargs.OutputVCF(prefix), nil
}
