// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package vcfcheck

import (
	"context"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// WriteReport writes the differences in r as a TSV with the columns
// VARIANT, FIELD, ACTUAL and EXPECTED. An empty report has only the header.
func WriteReport(ctx context.Context, path string, r *Result) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)

	w := tsv.NewWriter(out.Writer(ctx))
	w.WriteString("#VARIANT")
	w.WriteString("FIELD")
	w.WriteString("ACTUAL")
	w.WriteString("EXPECTED")
	if err = w.EndLine(); err != nil {
		return
	}
	for _, d := range r.Diffs {
		variant := d.Variant
		if variant == "" {
			variant = "."
		}
		w.WriteString(variant)
		w.WriteString(d.Field)
		w.WriteString(d.Actual)
		w.WriteString(d.Expected)
		if err = w.EndLine(); err != nil {
			return
		}
	}
	return w.Flush()
}
