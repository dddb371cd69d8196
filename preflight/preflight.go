// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package preflight validates the inputs of a structural-variant discovery
// run before the (expensive) pipeline is started.
package preflight

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/biosv/alignments"
	"github.com/grailbio/biosv/reference"
	"github.com/grailbio/biosv/svargs"
	"github.com/grailbio/biosv/vcfcheck"
)

// Report summarizes the checked inputs.
type Report struct {
	Reference  reference.Dictionary
	Alignments *alignments.Summary
	// CNVCalls is the number of records in the --cnv-calls VCF, or zero if
	// none was given.
	CNVCalls int
}

func (r *Report) String() string {
	s := fmt.Sprintf("reference: %d sequences; alignments: %v", len(r.Reference), r.Alignments)
	if r.CNVCalls > 0 {
		s += fmt.Sprintf("; %d CNV calls", r.CNVCalls)
	}
	return s
}

// Check validates args: the reference and the alignments must describe the
// same sequences, and every CNV call must be on a reference sequence.
// Inconsistent inputs produce a Precondition error.
func Check(ctx context.Context, args svargs.Args) (*Report, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	r := &Report{}
	err := traverse.Each(2, func(i int) (err error) {
		switch i {
		case 0:
			r.Reference, err = reference.Load(ctx, args.Reference)
		case 1:
			r.Alignments, err = alignments.Summarize(ctx, args.Input)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if err := reference.Compatible(r.Reference, r.Alignments.Dictionary); err != nil {
		return nil, errors.E(err, fmt.Sprintf("preflight: %s and %s", args.Reference, args.Input))
	}
	if args.CNVCalls != "" {
		if r.CNVCalls, err = checkCNVCalls(ctx, args.CNVCalls, r.Reference); err != nil {
			return nil, err
		}
	}
	if r.Alignments.Chimeric == 0 {
		log.Error.Printf("preflight: %s has no chimeric contigs; no variants will be called", args.Input)
	}
	log.Printf("preflight: %v", r)
	return r, nil
}

func checkCNVCalls(ctx context.Context, path string, ref reference.Dictionary) (int, error) {
	v, err := vcfcheck.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	unknown := map[string]bool{}
	for _, variant := range v.Variants {
		if _, ok := ref.Lookup(variant.Chromosome); !ok {
			unknown[variant.Chromosome] = true
		}
	}
	if len(unknown) > 0 {
		names := make([]string, 0, len(unknown))
		for name := range unknown {
			names = append(names, name)
		}
		sort.Strings(names)
		return 0, errors.E(errors.Precondition,
			fmt.Sprintf("preflight: %s has calls on sequences missing from the reference: %s", path, strings.Join(names, ", ")))
	}
	return len(v.Variants), nil
}
