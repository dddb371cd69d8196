// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package reference

import (
	"bufio"
	"bytes"
	"io"
	"io/ioutil"
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// Index files consist of one tab-separated line per sequence in the
// associated FASTA file: "<name>\t<length>\t<byte offset>\t<bases per
// line>\t<bytes per line>". For example: "chr3\t12345\t9000\t80\t81".
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

// ReadIndex reads a FASTA index (*.fai).
func ReadIndex(r io.Reader) (Dictionary, error) {
	var d Dictionary
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		m := indexRegExp.FindStringSubmatch(scanner.Text())
		if len(m) != 6 {
			return nil, errors.E(errors.Invalid, "invalid index line: "+scanner.Text())
		}
		length, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "invalid index line: "+scanner.Text())
		}
		d = append(d, Sequence{Name: m[1], Length: length})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(d) == 0 {
		return nil, errors.E(errors.Invalid, "empty FASTA index")
	}
	return d, nil
}

// GenerateIndex writes the faidx index of the FASTA data read from in. The
// format is the one produced by "samtools faidx"
// (http://www.htslib.org/doc/faidx.html).
func GenerateIndex(out io.Writer, in io.Reader) (err error) {
	_, err = generateIndex(out, in)
	return
}

func scanFASTA(in io.Reader) (Dictionary, error) {
	return generateIndex(ioutil.Discard, in)
}

func generateIndex(out io.Writer, in io.Reader) (d Dictionary, err error) {
	var (
		tsvOut      = tsv.NewWriter(out)
		r           = bufio.NewReader(in)
		seqName     string
		seqStartOff int64
		totalBases  int
		lineBases   int
		lineWidth   int
		cumByte     int64
		eof         bool
	)

	setErr := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	flush := func() {
		if seqName == "" {
			setErr(errors.E(errors.Invalid, "malformed FASTA file"))
			return
		}
		d = append(d, Sequence{Name: seqName, Length: uint64(totalBases)})
		tsvOut.WriteString(seqName)
		tsvOut.WriteInt64(int64(totalBases))
		tsvOut.WriteInt64(seqStartOff)
		tsvOut.WriteInt64(int64(lineBases))
		tsvOut.WriteInt64(int64(lineWidth))
		setErr(tsvOut.EndLine())
	}
	for !eof && err == nil {
		fullLine, e := r.ReadBytes('\n')
		if e == io.EOF {
			eof = true
		} else if e != nil {
			setErr(e)
		}
		cumByte += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if seqName != "" {
				flush()
			}
			seqName = strings.Split(string(line[1:]), " ")[0]
			seqStartOff = cumByte
			lineWidth = 0
			lineBases = 0
			totalBases = 0
			continue
		}
		if lineWidth == 0 {
			lineWidth = len(fullLine)
			lineBases = len(line)
		}
		totalBases += len(line)
	}
	if cumByte == 0 {
		return nil, errors.E(errors.Invalid, "empty FASTA file")
	}
	if err == nil {
		flush()
	}
	setErr(tsvOut.Flush())
	return
}
