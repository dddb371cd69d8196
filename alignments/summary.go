// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package alignments summarizes a SAM or BAM file of assembled contigs
// aligned to a reference. Structural-variant evidence comes from chimeric
// contigs, i.e. contigs whose alignment is split into several pieces, so
// the summary counts those in addition to flagstat-style totals.
package alignments

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/biosv/reference"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

var saTag = sam.NewTag("SA")

// Summary describes the contents of an alignment file.
type Summary struct {
	// Dictionary is taken from the header's @SQ lines.
	Dictionary reference.Dictionary
	// Records is the total number of records.
	Records int
	// Mapped counts records without the unmapped flag.
	Mapped int
	// Secondary and Supplementary count records with those flags.
	Secondary, Supplementary int
	// Contigs is the number of distinct query names.
	Contigs int
	// Chimeric is the number of contigs with more than one primary or
	// supplementary alignment, or with an SA tag.
	Chimeric int
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d records (%d mapped, %d secondary, %d supplementary), %d contigs, %d chimeric",
		s.Records, s.Mapped, s.Secondary, s.Supplementary, s.Contigs, s.Chimeric)
}

type contigStat struct {
	pieces int
	hasSA  bool
}

type recordReader interface {
	Read() (*sam.Record, error)
}

// Summarize reads every record of the SAM or BAM file at path. BAM input is
// recognized by its gzip magic, so the extension does not matter.
func Summarize(ctx context.Context, path string) (s *Summary, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	br := bufio.NewReader(in.Reader(ctx))
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, errors.E(err, path)
	}
	var (
		header *sam.Header
		reader recordReader
	)
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		var r *bam.Reader
		if r, err = bam.NewReader(br, 1); err != nil {
			return nil, errors.E(errors.Invalid, err, "reading BAM", path)
		}
		defer func() {
			if e := r.Close(); e != nil && err == nil {
				err = e
			}
		}()
		header, reader = r.Header(), r
	} else {
		var r *sam.Reader
		if r, err = sam.NewReader(br); err != nil {
			return nil, errors.E(errors.Invalid, err, "reading SAM", path)
		}
		header, reader = r.Header(), r
	}
	s = &Summary{}
	if s.Dictionary, err = reference.FromHeader(header); err != nil {
		return nil, errors.E(err, path)
	}
	contigs := map[string]*contigStat{}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(errors.Invalid, err, fmt.Sprintf("%s: record %d", path, s.Records+1))
		}
		s.record(rec, contigs)
	}
	s.Contigs = len(contigs)
	for _, c := range contigs {
		if c.pieces > 1 || c.hasSA {
			s.Chimeric++
		}
	}
	return s, nil
}

func (s *Summary) record(r *sam.Record, contigs map[string]*contigStat) {
	s.Records++
	c := contigs[r.Name]
	if c == nil {
		c = &contigStat{}
		contigs[r.Name] = c
	}
	f := r.Flags
	if (f & sam.Unmapped) != 0 {
		return
	}
	s.Mapped++
	if (f & sam.Secondary) != 0 {
		s.Secondary++
		return
	}
	if (f & sam.Supplementary) != 0 {
		s.Supplementary++
	}
	c.pieces++
	if r.AuxFields.Get(saTag) != nil {
		c.hasSA = true
	}
}
