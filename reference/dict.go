// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package reference

import (
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// ReadDict reads a sequence dictionary stored as a SAM header, as written
// by "samtools dict" or Picard CreateSequenceDictionary.
func ReadDict(r io.Reader) (Dictionary, error) {
	sr, err := sam.NewReader(r)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "reading sequence dictionary")
	}
	return FromHeader(sr.Header())
}

// FromHeader extracts the dictionary from the @SQ lines of a SAM header.
func FromHeader(h *sam.Header) (Dictionary, error) {
	refs := h.Refs()
	if len(refs) == 0 {
		return nil, errors.E(errors.Invalid, "header has no @SQ lines")
	}
	d := make(Dictionary, len(refs))
	for i, ref := range refs {
		d[i] = Sequence{Name: ref.Name(), Length: uint64(ref.Len())}
	}
	return d, nil
}
