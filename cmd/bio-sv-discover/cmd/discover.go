// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/biosv/preflight"
	"github.com/grailbio/biosv/runner"
	"github.com/grailbio/biosv/stage"
	"github.com/grailbio/biosv/svargs"
	"github.com/grailbio/biosv/svdiscover"
	"github.com/grailbio/biosv/vcfcheck"
)

type runOpts struct {
	argFlags
	compareFlags
	stageDir    string
	expected    string
	program     string
	tool        string
	extraArgs   []string
	noPreflight bool
	keepStaged  bool
}

func runDiscover(ctx context.Context, stdout, stderr io.Writer, opts runOpts) error {
	o := svdiscover.Opts{
		Args: opts.args(),
		Runner: &runner.ExecRunner{
			Program:   opts.program,
			Tool:      opts.tool,
			ExtraArgs: opts.extraArgs,
			Stdout:    stdout,
			Stderr:    stderr,
		},
		Preflight:  !opts.noPreflight,
		Expected:   opts.expected,
		Compare:    opts.compareFlags.opts(),
		KeepStaged: opts.keepStaged,
	}
	if opts.stageDir != "" {
		o.Mode = svdiscover.Staged
		o.Stager = &stage.Stager{WorkDir: opts.stageDir, Verify: true}
		o.FetchOutputs = true
	}
	res, err := svdiscover.Run(ctx, o)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", res.OutputVCF)
	if res.Comparison != nil {
		fmt.Fprintf(stdout, "%d variants match %s\n", res.Comparison.Compared, opts.expected)
	}
	return nil
}

func stageInputs(ctx context.Context, w io.Writer, args svargs.Args, workDir string, verify bool) error {
	if err := args.Validate(); err != nil {
		return err
	}
	s := &stage.Stager{WorkDir: workDir, Verify: verify}
	staged, st, err := s.Stage(ctx, args.List())
	if err != nil {
		return err
	}
	for _, f := range st.Files {
		log.Printf("%s: %s -> %s (%d bytes, seahash %016x)", f.Flag, f.Src, f.Dst, f.Size, f.Checksum)
	}
	_, err = fmt.Fprintln(w, staged)
	return err
}

func compare(ctx context.Context, w io.Writer, actual, expected string, opts vcfcheck.Opts) error {
	r, err := vcfcheck.Equivalent(ctx, actual, expected, opts)
	if err != nil {
		return err
	}
	for _, d := range r.Diffs {
		fmt.Fprintln(w, d)
	}
	if err := r.Err(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s matches %s (%d variants)\n", actual, expected, r.Compared)
	return err
}

func checkInputs(ctx context.Context, w io.Writer, args svargs.Args) error {
	// The output prefix is not needed to validate the inputs.
	if args.OutputPrefix == "" {
		args.OutputPrefix = "-"
	}
	r, err := preflight.Check(ctx, args)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, r)
	return err
}
