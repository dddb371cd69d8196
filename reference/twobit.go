// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package reference

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
)

// twoBit layout (https://genome.ucsc.edu/FAQ/FAQformat.html#format7):
//
//   header:  signature, version, sequenceCount, reserved (uint32 each)
//   index:   per sequence: nameSize (uint8), name, offset (uint32; uint64 in version 1)
//   record:  at offset: dnaSize (uint32), followed by block lists and packed bases
//
// The byte order is whatever makes the signature read as twoBitMagic.
const twoBitMagic = 0x1A412743

// ReadTwoBit reads the sequence dictionary of a twoBit file. Only the
// header, the index and each record's dnaSize are read. If r is not an
// io.ReadSeeker, the whole file is buffered.
func ReadTwoBit(r io.Reader) (Dictionary, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := ioutil.ReadAll(r)
		if err != nil {
			return nil, err
		}
		rs = bytes.NewReader(data)
	}
	var hdr [16]byte
	if _, err := io.ReadFull(rs, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "twoBit header")
	}
	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(hdr[0:]) == twoBitMagic:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(hdr[0:]) == twoBitMagic:
		order = binary.BigEndian
	default:
		return nil, errors.Errorf("bad twoBit signature %x", hdr[0:4])
	}
	version := order.Uint32(hdr[4:])
	if version > 1 {
		return nil, errors.Errorf("unsupported twoBit version %d", version)
	}
	count := order.Uint32(hdr[8:])
	// Each index entry takes at least a name size byte and an offset.
	entrySize := uint64(1 + 4)
	if version == 1 {
		entrySize = 1 + 8
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "twoBit size")
	}
	if uint64(count)*entrySize > uint64(end)-uint64(len(hdr)) {
		return nil, errors.Errorf("twoBit sequence count %d exceeds file size %d", count, end)
	}
	if _, err := rs.Seek(int64(len(hdr)), io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "twoBit index")
	}

	names := make([]string, count)
	offsets := make([]uint64, count)
	br := &byteReader{r: rs}
	for i := range names {
		n, err := br.readByte()
		if err != nil {
			return nil, errors.Wrapf(err, "twoBit index entry %d", i)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(rs, name); err != nil {
			return nil, errors.Wrapf(err, "twoBit index entry %d", i)
		}
		names[i] = string(name)
		if version == 1 {
			var off [8]byte
			if _, err := io.ReadFull(rs, off[:]); err != nil {
				return nil, errors.Wrapf(err, "twoBit offset of %s", names[i])
			}
			offsets[i] = order.Uint64(off[:])
		} else {
			var off [4]byte
			if _, err := io.ReadFull(rs, off[:]); err != nil {
				return nil, errors.Wrapf(err, "twoBit offset of %s", names[i])
			}
			offsets[i] = uint64(order.Uint32(off[:]))
		}
	}

	d := make(Dictionary, count)
	for i := range names {
		if _, err := rs.Seek(int64(offsets[i]), io.SeekStart); err != nil {
			return nil, errors.Wrapf(err, "twoBit seek to %s", names[i])
		}
		var size [4]byte
		if _, err := io.ReadFull(rs, size[:]); err != nil {
			return nil, errors.Wrapf(err, "twoBit record of %s", names[i])
		}
		d[i] = Sequence{Name: names[i], Length: uint64(order.Uint32(size[:]))}
	}
	return d, nil
}

type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) readByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}

// WriteTwoBitIndex writes a twoBit file (version 0, little endian) that
// holds only the dictionary: every sequence is recorded with its length
// and no packed bases. Such files are enough for dictionary checks.
func WriteTwoBitIndex(w io.Writer, d Dictionary) error {
	var buf bytes.Buffer
	le := binary.LittleEndian
	put32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	put32(twoBitMagic)
	put32(0)
	put32(uint32(len(d)))
	put32(0)
	off := uint32(16)
	for _, s := range d {
		if len(s.Name) > 255 {
			return errors.Errorf("twoBit: sequence name too long: %s", s.Name)
		}
		off += 1 + uint32(len(s.Name)) + 4
	}
	for _, s := range d {
		buf.WriteByte(byte(len(s.Name)))
		buf.WriteString(s.Name)
		put32(off)
		// dnaSize, nBlockCount, maskBlockCount, reserved.
		off += 16
	}
	for _, s := range d {
		if s.Length > 1<<32-1 {
			return errors.Errorf("twoBit: sequence %s too long for version 0", s.Name)
		}
		put32(uint32(s.Length))
		put32(0)
		put32(0)
		put32(0)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
