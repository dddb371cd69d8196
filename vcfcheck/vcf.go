// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package vcfcheck decides whether a VCF produced by the structural-variant
// pipeline is equivalent to a golden VCF. Both files may live on any
// storage registered with the file package, and may be gzip or BGZF
// compressed.
package vcfcheck

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/brentp/vcfgo"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

// VCF is a fully loaded VCF file.
type VCF struct {
	Path     string
	Header   *vcfgo.Header
	Variants []*vcfgo.Variant
}

// Open reads the whole VCF at path.
func Open(ctx context.Context, path string) (v *VCF, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	br := bufio.NewReader(in.Reader(ctx))
	var r io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "vcfcheck: opening compressed VCF", path)
		}
		defer gz.Close()
		r = gz
	}
	checked := &recordChecker{r: bufio.NewReader(r), path: path}
	vr, err := vcfgo.NewReader(checked, false)
	if checked.err != nil {
		return nil, checked.err
	}
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "vcfcheck: reading VCF header", path)
	}
	v = &VCF{Path: path, Header: vr.Header}
	for {
		variant := vr.Read()
		if variant == nil {
			break
		}
		v.Variants = append(v.Variants, variant)
	}
	if checked.err != nil {
		return nil, checked.err
	}
	if e := vr.Error(); e != nil {
		return nil, errors.E(errors.Invalid, e, "vcfcheck: parsing", path)
	}
	log.Debug.Printf("vcfcheck: read %d variants from %s", len(v.Variants), path)
	return v, nil
}

// minRecordFields is the number of fixed columns, CHROM to INFO.
const minRecordFields = 8

// recordChecker passes VCF text through line by line, and stops with an
// Invalid error at the first record that lacks the fixed columns or has a
// non-numeric POS. vcfgo does not check either.
type recordChecker struct {
	r    *bufio.Reader
	path string
	line int
	buf  []byte
	err  error
}

func (c *recordChecker) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		line, err := c.r.ReadBytes('\n')
		if len(line) > 0 {
			c.line++
			if e := c.check(line); e != nil {
				c.err = e
				return 0, e
			}
			c.buf = line
		}
		if err != nil {
			if err != io.EOF {
				c.err = errors.E(err, c.path)
				return 0, c.err
			}
			if len(c.buf) == 0 {
				return 0, io.EOF
			}
		}
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *recordChecker) check(line []byte) error {
	text := strings.TrimRight(string(line), "\r\n")
	if text == "" || text[0] == '#' {
		return nil
	}
	fields := strings.Split(text, "\t")
	if len(fields) < minRecordFields {
		return errors.E(errors.Invalid,
			fmt.Sprintf("vcfcheck: %s:%d: record has %d columns, want at least %d", c.path, c.line, len(fields), minRecordFields))
	}
	if _, err := strconv.ParseUint(fields[1], 10, 64); err != nil {
		return errors.E(errors.Invalid, err, fmt.Sprintf("vcfcheck: %s:%d: bad POS %q", c.path, c.line, fields[1]))
	}
	return nil
}

// Contigs returns the contig IDs declared in the header, in order.
func (v *VCF) Contigs() []string {
	var ids []string
	for _, c := range v.Header.Contigs {
		if id, ok := c["ID"]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Info returns the INFO value of key formatted as a string. Keys missing
// from the header are looked up in the raw INFO column.
func Info(v *vcfgo.Variant, key string) (string, bool) {
	info := v.Info()
	val, err := info.Get(key)
	if err == nil && val != nil {
		if b, ok := val.(bool); ok && !b {
			// Absent flag.
			return "", false
		}
		return formatValue(val), true
	}
	for _, kv := range strings.Split(info.String(), ";") {
		switch {
		case kv == key:
			return "true", true
		case strings.HasPrefix(kv, key+"="):
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

func formatValue(val interface{}) string {
	switch x := val.(type) {
	case string:
		return x
	case []string:
		return strings.Join(x, ",")
	case []int:
		s := make([]string, len(x))
		for i, n := range x {
			s[i] = strconv.Itoa(n)
		}
		return strings.Join(s, ",")
	case []float32:
		s := make([]string, len(x))
		for i, f := range x {
			s[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return strings.Join(s, ",")
	case []interface{}:
		s := make([]string, len(x))
		for i, e := range x {
			s[i] = formatValue(e)
		}
		return strings.Join(s, ",")
	}
	return fmt.Sprint(val)
}

// End returns the last reference position covered by v: INFO END if
// present, else the end of the REF allele.
func End(v *vcfgo.Variant) uint64 {
	if s, ok := Info(v, "END"); ok {
		if end, err := strconv.ParseUint(s, 10, 64); err == nil {
			return end
		}
	}
	return v.Pos + uint64(len(v.Reference)) - 1
}

// SVType returns INFO SVTYPE, or the ALT alleles when SVTYPE is absent.
func SVType(v *vcfgo.Variant) string {
	if s, ok := Info(v, "SVTYPE"); ok {
		return s
	}
	return strings.Join(v.Alternate, ",")
}

// Key identifies a variant by location and type, independently of its ID
// and annotations.
type Key struct {
	Chrom    string
	Pos, End uint64
	SVType   string
}

func (k Key) String() string { return fmt.Sprintf("%s:%d-%d:%s", k.Chrom, k.Pos, k.End, k.SVType) }

// KeyOf returns the key of v.
func KeyOf(v *vcfgo.Variant) Key {
	return Key{Chrom: v.Chromosome, Pos: v.Pos, End: End(v), SVType: SVType(v)}
}
