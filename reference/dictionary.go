// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package reference reads the sequence dictionary (names and lengths) of a
// reference genome without loading its bases. Supported inputs are twoBit
// files, FASTA files (through their .fai or .dict companion, or by scanning
// the FASTA itself), and SAM-header .dict files.
package reference

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// Sequence is one entry of a sequence dictionary.
type Sequence struct {
	Name   string
	Length uint64
}

// Dictionary lists the sequences of a reference, in file order.
type Dictionary []Sequence

// Names returns the sequence names in order.
func (d Dictionary) Names() []string {
	names := make([]string, len(d))
	for i, s := range d {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the sequence with the given name.
func (d Dictionary) Lookup(name string) (Sequence, bool) {
	for _, s := range d {
		if s.Name == name {
			return s, true
		}
	}
	return Sequence{}, false
}

// Compatible checks that a and b describe the same reference: at least one
// sequence name is shared, and shared names have equal lengths. Sequences
// present in only one dictionary are allowed, since alignment headers often
// carry a subset of the reference.
func Compatible(a, b Dictionary) error {
	lengths := make(map[string]uint64, len(a))
	for _, s := range a {
		lengths[s.Name] = s.Length
	}
	var (
		shared     int
		mismatched []string
	)
	for _, s := range b {
		l, ok := lengths[s.Name]
		if !ok {
			continue
		}
		shared++
		if l != s.Length {
			mismatched = append(mismatched, fmt.Sprintf("%s(%d vs %d)", s.Name, l, s.Length))
		}
	}
	if shared == 0 {
		return errors.E(errors.Precondition, "reference: sequence dictionaries share no sequences")
	}
	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		return errors.E(errors.Precondition,
			fmt.Sprintf("reference: sequence lengths differ: %s", strings.Join(mismatched, ", ")))
	}
	return nil
}

// Format is a reference file format.
type Format int

const (
	// Unknown is a sentinel.
	Unknown Format = iota
	// TwoBit is the UCSC .2bit format.
	TwoBit
	// FASTA is plain (uncompressed) FASTA.
	FASTA
	// Dict is a SAM header holding @SQ lines.
	Dict
)

// GuessFormat returns the format implied by the path extension.
func GuessFormat(path string) Format {
	switch {
	case strings.HasSuffix(path, ".2bit"):
		return TwoBit
	case strings.HasSuffix(path, ".dict"):
		return Dict
	}
	for _, ext := range []string{".fa", ".fasta", ".fna", ".fas"} {
		if strings.HasSuffix(path, ext) {
			return FASTA
		}
	}
	return Unknown
}

// Companions returns the paths that conventionally accompany a FASTA
// reference: <path>.fai and <path without extension>.dict.
func Companions(path string) []string {
	if GuessFormat(path) != FASTA {
		return nil
	}
	base := path[:strings.LastIndexByte(path, '.')]
	return []string{path + ".fai", base + ".dict"}
}

// Load reads the sequence dictionary of the reference at path. Paths may
// use any scheme registered with the file package.
func Load(ctx context.Context, path string) (Dictionary, error) {
	switch GuessFormat(path) {
	case TwoBit:
		return loadWith(ctx, path, ReadTwoBit)
	case Dict:
		return loadWith(ctx, path, ReadDict)
	case FASTA:
		companions := Companions(path)
		for i, read := range []func(io.Reader) (Dictionary, error){ReadIndex, ReadDict} {
			d, err := loadWith(ctx, companions[i], read)
			if err == nil {
				log.Debug.Printf("reference: loaded dictionary of %s from %s", path, companions[i])
				return d, nil
			}
			if !notExist(err) {
				return nil, err
			}
		}
		log.Printf("reference: %s has no index; scanning the FASTA", path)
		return loadWith(ctx, path, scanFASTA)
	}
	return nil, errors.E(errors.NotSupported, fmt.Sprintf("reference: unrecognized reference format: %s", path))
}

func loadWith(ctx context.Context, path string, read func(io.Reader) (Dictionary, error)) (d Dictionary, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if d, err = read(in.Reader(ctx)); err != nil {
		return nil, errors.E(err, path)
	}
	return d, nil
}

func notExist(err error) bool {
	return errors.Is(errors.NotExist, err) || os.IsNotExist(errors.Recover(err).Err)
}
