// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package runner invokes the structural-variant discovery pipeline, either
// in-process through a RunnerFunc or as a subprocess through ExecRunner.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/biosv/svargs"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

const (
	// DefaultProgram is the launcher looked up on $PATH.
	DefaultProgram = "gatk"
	// DefaultTool is the pipeline name passed to the launcher.
	DefaultTool = "SvDiscoverFromLocalAssemblyContigAlignmentsSpark"

	// Number of trailing stderr lines kept in errors.
	stderrTailLines = 20
)

// Runner runs the pipeline once with the given arguments. Implementations
// must return only after the pipeline's outputs are complete.
type Runner interface {
	Run(ctx context.Context, args svargs.List) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, args svargs.List) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, args svargs.List) error { return f(ctx, args) }

// ExecRunner runs the pipeline as a subprocess:
//
//   Program [Tool] [ExtraArgs...] args...
type ExecRunner struct {
	// Program is the launcher; a bare name is resolved on $PATH. Defaults to
	// DefaultProgram.
	Program string
	// Tool is the first argument passed to Program. Defaults to
	// DefaultTool. Set it to "-" to pass no tool name.
	Tool string
	// ExtraArgs are passed before the pipeline arguments.
	ExtraArgs []string
	// Env, in "KEY=VALUE" form, is merged over the current environment.
	Env []string
	// Stdout and Stderr receive the subprocess output in addition to the
	// log. Either may be nil.
	Stdout, Stderr io.Writer
}

func (r *ExecRunner) env() map[string]string {
	vars := envvar.SliceToMap(os.Environ())
	for k, v := range envvar.SliceToMap(r.Env) {
		vars[k] = v
	}
	return vars
}

// Command returns the fully resolved argv that Run would execute.
func (r *ExecRunner) Command(args svargs.List) ([]string, error) {
	program := r.Program
	if program == "" {
		program = DefaultProgram
	}
	if !strings.Contains(program, "/") {
		path, err := lookpath.Look(r.env(), program)
		if err != nil {
			return nil, errors.E(errors.NotExist, err, fmt.Sprintf("runner: %s not found", program))
		}
		program = path
	}
	argv := []string{program}
	switch r.Tool {
	case "":
		argv = append(argv, DefaultTool)
	case "-":
	default:
		argv = append(argv, r.Tool)
	}
	argv = append(argv, r.ExtraArgs...)
	return append(argv, args...), nil
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, args svargs.List) error {
	argv, err := r.Command(args)
	if err != nil {
		return err
	}
	log.Printf("runner: %s", strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = envvar.MapToSlice(r.env())
	var stderr tailBuffer
	stderr.max = stderrTailLines
	cmd.Stdout = writers(r.Stdout)
	cmd.Stderr = writers(r.Stderr, &stderr)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errors.E(ctx.Err(), "runner: pipeline interrupted")
		}
		return errors.E(errors.Other, err, fmt.Sprintf("runner: %s failed; stderr tail:\n%s", argv[0], stderr.String()))
	}
	return nil
}

func writers(ws ...io.Writer) io.Writer {
	var out []io.Writer
	for _, w := range ws {
		if w != nil {
			out = append(out, w)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return io.MultiWriter(out...)
}

// tailBuffer keeps the last max lines written to it.
type tailBuffer struct {
	max   int
	lines [][]byte
	part  []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			t.part = append(t.part, p...)
			break
		}
		line := append(t.part, p[:i]...)
		t.part = nil
		t.lines = append(t.lines, line)
		if len(t.lines) > t.max {
			t.lines = t.lines[1:]
		}
		p = p[i+1:]
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	var b strings.Builder
	for _, l := range t.lines {
		b.Write(l)
		b.WriteByte('\n')
	}
	b.Write(t.part)
	return b.String()
}
