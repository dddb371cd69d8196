// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/biosv/runner"
	"github.com/grailbio/biosv/svargs"
	"github.com/grailbio/biosv/vcfcheck"
	"v.io/x/lib/cmdline"
)

// argFlags are the pipeline arguments, shared by every command that needs
// them.
type argFlags struct {
	reference, input, output, cnvCalls *string
}

func newArgFlags(fs *flag.FlagSet) argFlags {
	return argFlags{
		reference: fs.String("R", "", "Reference genome, in .2bit, FASTA or .dict form. Required."),
		input:     fs.String("I", "", "SAM or BAM file of locally assembled contigs aligned to the reference. Required."),
		output:    fs.String("O", "", "Output prefix. Non-complex variants are written to <prefix>"+svargs.NonComplexSuffix+"."),
		cnvCalls:  fs.String("cnv-calls", "", "Optional VCF of external CNV calls used to annotate the variants."),
	}
}

func (f argFlags) args() svargs.Args {
	return svargs.Args{
		Reference:    *f.reference,
		Input:        *f.input,
		OutputPrefix: *f.output,
		CNVCalls:     *f.cnvCalls,
	}
}

type compareFlags struct {
	ignore, checkAgainst, report *string
}

func newCompareFlags(fs *flag.FlagSet) compareFlags {
	return compareFlags{
		ignore: fs.String("ignore", "", `Comma-separated INFO keys (or ID, QUAL, FILTER) to ignore when comparing.
Empty means `+strings.Join(vcfcheck.DefaultIgnoredAttributes, ",")+`.
"none" compares every field.`),
		checkAgainst: fs.String("check-against", "", "If set, every output variant must also appear in this VCF."),
		report:       fs.String("report", "", "If set, write a TSV of the differences to this path."),
	}
}

func (f compareFlags) opts() vcfcheck.Opts {
	opts := vcfcheck.Opts{CheckAgainst: *f.checkAgainst, Report: *f.report}
	switch *f.ignore {
	case "":
		opts.IgnoreAttributes = vcfcheck.DefaultIgnoredAttributes
	case "none":
	default:
		opts.IgnoreAttributes = strings.Split(*f.ignore, ",")
	}
	return opts
}

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "run",
		Short:    "Discover structural variants from contig alignments",
		ArgsName: "[-- launcher args]",
		Long: `
Run runs the structural-variant discovery pipeline on the given arguments.

With -stage-dir, the reference and the contig alignments are first copied
into that directory (which may be on S3) and the pipeline writes there. The
staged files are removed afterwards unless -keep-staged is set, and the
outputs are copied back under -O.

With -expected, the non-complex VCF must be equivalent to the given VCF,
ignoring the annotations listed by -ignore.

Arguments after the flags are passed to the launcher before the pipeline
arguments, e.g. "-- --spark-master local[4]".`,
	}
	opts := runOpts{
		argFlags:     newArgFlags(&cmd.Flags),
		compareFlags: newCompareFlags(&cmd.Flags),
	}
	cmd.Flags.StringVar(&opts.stageDir, "stage-dir", "", "If set, stage the inputs into this directory and run there.")
	cmd.Flags.StringVar(&opts.expected, "expected", "", "If set, the golden VCF the output must be equivalent to.")
	cmd.Flags.StringVar(&opts.program, "gatk", runner.DefaultProgram, "The pipeline launcher.")
	cmd.Flags.StringVar(&opts.tool, "tool", runner.DefaultTool, `The tool name passed to the launcher. "-" passes none.`)
	cmd.Flags.BoolVar(&opts.noPreflight, "no-preflight", false, "Skip input validation.")
	cmd.Flags.BoolVar(&opts.keepStaged, "keep-staged", false, "Keep the staged inputs and outputs.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		opts.extraArgs = argv
		return runDiscover(vcontext.Background(), env.Stdout, env.Stderr, opts)
	})
	return cmd
}

func newCmdStage() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "stage",
		Short:    "Copy the pipeline inputs into a working directory",
		ArgsName: "workdir",
		Long: `
Stage copies the reference and the contig alignments into workdir and
prints the pipeline arguments rewritten to use the copies.`,
	}
	args := newArgFlags(&cmd.Flags)
	verify := cmd.Flags.Bool("verify", false, "Read back each copy and compare checksums.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("stage takes one workdir argument, but got %v", argv)
		}
		return stageInputs(vcontext.Background(), env.Stdout, args.args(), argv[0], *verify)
	})
	return cmd
}

func newCmdCompare() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "compare",
		Short:    "Check that two structural-variant VCFs are equivalent",
		ArgsName: "actual expected",
	}
	flags := newCompareFlags(&cmd.Flags)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("compare takes actual and expected VCF paths, but got %v", argv)
		}
		return compare(vcontext.Background(), env.Stdout, argv[0], argv[1], flags.opts())
	})
	return cmd
}

func newCmdPreflight() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "preflight",
		Short: "Validate the pipeline inputs without running it",
	}
	args := newArgFlags(&cmd.Flags)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("preflight takes no arguments, but got %v", argv)
		}
		return checkInputs(vcontext.Background(), env.Stdout, args.args())
	})
	return cmd
}

func newCmdRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "bio-sv-discover",
		Short:    "Run and check structural-variant discovery from local assembly contig alignments",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdRun(),
			newCmdStage(),
			newCmdCompare(),
			newCmdPreflight(),
		},
	}
}

// Run parses the command line, runs the selected command, and returns the
// process exit code.
func Run() int {
	cmdline.HideGlobalFlagsExcept()
	err := cmdline.ParseAndRun(newCmdRoot(), cmdline.EnvFromOS(), os.Args[1:])
	return cmdline.ExitCode(err, os.Stderr)
}
