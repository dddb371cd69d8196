// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package vcfcheck

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/brentp/vcfgo"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// DefaultIgnoredAttributes are INFO annotations of the structural-variant
// pipeline that depend on how contigs were named and aligned rather than on
// the variant itself. They differ between local and cluster runs.
var DefaultIgnoredAttributes = []string{
	"CTG_NAMES",
	"TOTAL_MAPPINGS",
	"HQ_MAPPINGS",
	"MAPPING_QUALITIES",
	"ALIGN_LENGTHS",
	"MAX_ALIGN_LENGTH",
	"CTG_GOOD_NONCANONICAL_MAPPING",
}

// Opts configures Equivalent.
type Opts struct {
	// IgnoreAttributes lists INFO keys excluded from the comparison. The
	// column names ID, QUAL and FILTER may also be listed.
	IgnoreAttributes []string
	// CheckAgainst, if set, names a third VCF that must contain every
	// actual variant, matched by Key.
	CheckAgainst string
	// Report, if set, is the path of a TSV listing every difference.
	Report string
}

// Diff is one difference between the actual and expected VCF.
type Diff struct {
	// Variant identifies the variant; empty for file-level differences.
	Variant string
	// Field is a VCF column name, "INFO/<key>", or one of COUNT, SAMPLES,
	// MISSING and CHECK_AGAINST.
	Field            string
	Actual, Expected string
}

func (d Diff) String() string {
	if d.Variant == "" {
		return fmt.Sprintf("%s: actual %q, expected %q", d.Field, d.Actual, d.Expected)
	}
	return fmt.Sprintf("%s %s: actual %q, expected %q", d.Variant, d.Field, d.Actual, d.Expected)
}

// Result is the outcome of Equivalent.
type Result struct {
	Actual, Expected string
	// Compared is the number of variant pairs compared.
	Compared int
	Diffs    []Diff
}

// Err returns nil if the files are equivalent, and otherwise a
// Precondition error describing the first differences.
func (r *Result) Err() error {
	if len(r.Diffs) == 0 {
		return nil
	}
	const maxShown = 5
	var b strings.Builder
	for i, d := range r.Diffs {
		if i == maxShown {
			fmt.Fprintf(&b, "\n  ... and %d more", len(r.Diffs)-maxShown)
			break
		}
		b.WriteString("\n  ")
		b.WriteString(d.String())
	}
	return errors.E(errors.Precondition,
		fmt.Sprintf("vcfcheck: %s differs from %s in %d places:%s", r.Actual, r.Expected, len(r.Diffs), b.String()))
}

// Equivalent compares the VCF at actualPath with the golden VCF at
// expectedPath. Variants are matched after sorting both files by contig
// (in the expected header's order), position, end and ID. The returned
// error reports I/O and parse failures only; differences are in the
// Result.
func Equivalent(ctx context.Context, actualPath, expectedPath string, opts Opts) (*Result, error) {
	actual, err := Open(ctx, actualPath)
	if err != nil {
		return nil, err
	}
	expected, err := Open(ctx, expectedPath)
	if err != nil {
		return nil, err
	}
	var check *VCF
	if opts.CheckAgainst != "" {
		if check, err = Open(ctx, opts.CheckAgainst); err != nil {
			return nil, err
		}
	}
	r := Compare(actual, expected, check, opts.IgnoreAttributes)
	if opts.Report != "" {
		if err := WriteReport(ctx, opts.Report, r); err != nil {
			return r, err
		}
	}
	if len(r.Diffs) == 0 {
		log.Printf("vcfcheck: %s matches %s (%d variants)", actualPath, expectedPath, r.Compared)
	}
	return r, nil
}

// Compare is Equivalent on loaded files. check may be nil.
func Compare(actual, expected, check *VCF, ignore []string) *Result {
	r := &Result{Actual: actual.Path, Expected: expected.Path}
	ignored := map[string]bool{}
	for _, k := range ignore {
		ignored[k] = true
	}

	if a, e := strings.Join(actual.Header.SampleNames, ","), strings.Join(expected.Header.SampleNames, ","); a != e {
		r.Diffs = append(r.Diffs, Diff{Field: "SAMPLES", Actual: a, Expected: e})
	}

	order := contigOrder(expected, actual)
	av := sortedVariants(actual.Variants, order)
	ev := sortedVariants(expected.Variants, order)
	if len(av) != len(ev) {
		r.Diffs = append(r.Diffs, Diff{Field: "COUNT", Actual: strconv.Itoa(len(av)), Expected: strconv.Itoa(len(ev))})
		r.Diffs = append(r.Diffs, unmatched(av, ev)...)
	} else {
		for i := range av {
			r.Diffs = append(r.Diffs, compareVariants(av[i], ev[i], ignored)...)
			r.Compared++
		}
	}

	if check != nil {
		known := map[Key]bool{}
		for _, v := range check.Variants {
			known[KeyOf(v)] = true
		}
		for _, v := range av {
			if k := KeyOf(v); !known[k] {
				r.Diffs = append(r.Diffs, Diff{Variant: k.String(), Field: "CHECK_AGAINST", Actual: v.Id(), Expected: check.Path})
			}
		}
	}
	return r
}

func contigOrder(vcfs ...*VCF) map[string]int {
	order := map[string]int{}
	for _, v := range vcfs {
		for _, id := range v.Contigs() {
			if _, ok := order[id]; !ok {
				order[id] = len(order)
			}
		}
	}
	return order
}

func sortedVariants(vs []*vcfgo.Variant, order map[string]int) []*vcfgo.Variant {
	rank := func(chrom string) int {
		if i, ok := order[chrom]; ok {
			return i
		}
		return len(order)
	}
	sorted := append([]*vcfgo.Variant(nil), vs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ra, rb := rank(a.Chromosome), rank(b.Chromosome); ra != rb {
			return ra < rb
		}
		if a.Chromosome != b.Chromosome {
			return a.Chromosome < b.Chromosome
		}
		if a.Pos != b.Pos {
			return a.Pos < b.Pos
		}
		if ea, eb := End(a), End(b); ea != eb {
			return ea < eb
		}
		return a.Id() < b.Id()
	})
	return sorted
}

// unmatched lists the variants present on one side only, by Key.
func unmatched(actual, expected []*vcfgo.Variant) []Diff {
	count := map[Key]int{}
	for _, v := range expected {
		count[KeyOf(v)]++
	}
	var diffs []Diff
	for _, v := range actual {
		k := KeyOf(v)
		if count[k] > 0 {
			count[k]--
			continue
		}
		diffs = append(diffs, Diff{Variant: k.String(), Field: "MISSING", Actual: v.Id()})
	}
	for _, v := range expected {
		k := KeyOf(v)
		if count[k] > 0 {
			count[k]--
			diffs = append(diffs, Diff{Variant: k.String(), Field: "MISSING", Expected: v.Id()})
		}
	}
	return diffs
}

func compareVariants(a, e *vcfgo.Variant, ignored map[string]bool) []Diff {
	var diffs []Diff
	name := KeyOf(e).String()
	field := func(f, av, ev string) {
		if !ignored[f] && av != ev {
			diffs = append(diffs, Diff{Variant: name, Field: f, Actual: av, Expected: ev})
		}
	}
	field("CHROM", a.Chromosome, e.Chromosome)
	field("POS", strconv.FormatUint(a.Pos, 10), strconv.FormatUint(e.Pos, 10))
	field("ID", a.Id(), e.Id())
	field("REF", a.Reference, e.Reference)
	field("ALT", strings.Join(a.Alternate, ","), strings.Join(e.Alternate, ","))
	field("QUAL", strconv.FormatFloat(float64(a.Quality), 'g', -1, 32), strconv.FormatFloat(float64(e.Quality), 'g', -1, 32))
	field("FILTER", a.Filter, e.Filter)

	keys := map[string]bool{}
	for _, k := range a.Info().Keys() {
		keys[k] = true
	}
	for _, k := range e.Info().Keys() {
		keys[k] = true
	}
	sortedKeys := make([]string, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)
	for _, k := range sortedKeys {
		if ignored[k] {
			continue
		}
		av, aok := Info(a, k)
		ev, eok := Info(e, k)
		if !aok {
			av = "<absent>"
		}
		if !eok {
			ev = "<absent>"
		}
		field("INFO/"+k, av, ev)
	}
	return diffs
}
