// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package svargs builds and edits the command line accepted by the
// structural-variant discovery pipeline:
//
//   -R <reference> -I <contig alignments> -O <output prefix> [--cnv-calls <vcf>]
//
// The pipeline writes its non-complex variants to
// <output prefix>_sample_NonComplex.vcf.
package svargs

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// Flags understood by the pipeline.
const (
	ReferenceFlag = "-R"
	InputFlag     = "-I"
	OutputFlag    = "-O"
	CNVCallsFlag  = "--cnv-calls"
)

const (
	// NonComplexSuffix is appended to the output prefix to name the VCF of
	// simple (non-complex) variants.
	NonComplexSuffix = "_sample_NonComplex.vcf"
	// ComplexSuffix names the VCF of complex variants.
	ComplexSuffix = "_sample_Complex.vcf"
)

// Args is one invocation of the pipeline. CNVCalls is optional.
type Args struct {
	Reference    string
	Input        string
	OutputPrefix string
	CNVCalls     string
}

// CommandLine returns the arguments as a single string, in the form
// " -R ref -I input -O prefix[ --cnv-calls cnv]".
func (a Args) CommandLine() string {
	s := " " + ReferenceFlag + " " + a.Reference +
		" " + InputFlag + " " + a.Input +
		" " + OutputFlag + " " + a.OutputPrefix
	if a.CNVCalls != "" {
		s += " " + CNVCallsFlag + " " + a.CNVCalls
	}
	return s
}

// List returns the arguments as separate tokens.
func (a Args) List() List {
	l := List{ReferenceFlag, a.Reference, InputFlag, a.Input, OutputFlag, a.OutputPrefix}
	if a.CNVCalls != "" {
		l = append(l, CNVCallsFlag, a.CNVCalls)
	}
	return l
}

// OutputVCF returns the path of the non-complex VCF written for these
// arguments.
func (a Args) OutputVCF() string { return OutputVCF(a.OutputPrefix) }

// Validate checks that the required arguments are set.
func (a Args) Validate() error {
	for _, f := range []struct{ flag, val string }{
		{ReferenceFlag, a.Reference},
		{InputFlag, a.Input},
		{OutputFlag, a.OutputPrefix},
	} {
		if f.val == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("svargs: missing value for %s", f.flag))
		}
	}
	return nil
}

// OutputVCF returns the non-complex VCF path for an output prefix.
func OutputVCF(prefix string) string { return prefix + NonComplexSuffix }

// Outputs lists every VCF the pipeline may write for an output prefix.
func Outputs(prefix string) []string {
	return []string{prefix + NonComplexSuffix, prefix + ComplexSuffix}
}

// List is a tokenized command line.
type List []string

// IndexOf returns the index of the first token equal to flag, or -1.
func (l List) IndexOf(flag string) int {
	for i, tok := range l {
		if tok == flag {
			return i
		}
	}
	return -1
}

// Value returns the token following flag.
func (l List) Value(flag string) (string, bool) {
	i := l.IndexOf(flag)
	if i < 0 || i+1 >= len(l) {
		return "", false
	}
	return l[i+1], true
}

// Set replaces the token following flag in place.
func (l List) Set(flag, value string) error {
	i := l.IndexOf(flag)
	if i < 0 {
		return errors.E(errors.NotExist, fmt.Sprintf("svargs: flag %s not in %v", flag, l))
	}
	if i+1 >= len(l) {
		return errors.E(errors.Invalid, fmt.Sprintf("svargs: flag %s has no value", flag))
	}
	l[i+1] = value
	return nil
}

// Clone returns a copy of l that can be edited without affecting l.
func (l List) Clone() List {
	c := make(List, len(l))
	copy(c, l)
	return c
}

// String joins the tokens with single spaces.
func (l List) String() string { return strings.Join(l, " ") }

// Parse converts a token list back to Args. Unknown flags and missing
// required flags are errors.
func Parse(l List) (Args, error) {
	var a Args
	for i := 0; i < len(l); i += 2 {
		if i+1 >= len(l) {
			return Args{}, errors.E(errors.Invalid, fmt.Sprintf("svargs: flag %s has no value", l[i]))
		}
		val := l[i+1]
		switch l[i] {
		case ReferenceFlag:
			a.Reference = val
		case InputFlag:
			a.Input = val
		case OutputFlag:
			a.OutputPrefix = val
		case CNVCallsFlag:
			a.CNVCalls = val
		default:
			return Args{}, errors.E(errors.Invalid, fmt.Sprintf("svargs: unknown flag %q", l[i]))
		}
	}
	if err := a.Validate(); err != nil {
		return Args{}, err
	}
	return a, nil
}

// Builder accumulates command-line tokens. Strings passed to Add are split
// on whitespace, so a whole command line can be added at once.
type Builder struct {
	l List
}

// Add splits s on whitespace and appends the tokens.
func (b *Builder) Add(s string) *Builder {
	b.l = append(b.l, strings.Fields(s)...)
	return b
}

// AddFlag appends a flag and its value.
func (b *Builder) AddFlag(name, value string) *Builder {
	b.l = append(b.l, name, value)
	return b
}

// AddBool appends a flag that takes no value.
func (b *Builder) AddBool(name string) *Builder {
	b.l = append(b.l, name)
	return b
}

// List returns a copy of the accumulated tokens.
func (b *Builder) List() List { return b.l.Clone() }
