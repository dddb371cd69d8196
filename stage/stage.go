// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package stage copies pipeline inputs into a working directory on shared
// storage (for example an S3 prefix) and rewrites the command line to point
// at the copies, so that the pipeline can run on a cluster that cannot see
// the local filesystem.
package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/biosv/reference"
	"github.com/grailbio/biosv/svargs"
)

// DefaultOutputName is the base name of the staged output prefix.
const DefaultOutputName = "test"

// DefaultFlags are the arguments staged by default. CNV calls stay where
// they are.
var DefaultFlags = []string{svargs.InputFlag, svargs.ReferenceFlag}

var defaultStems = map[string]string{
	svargs.InputFlag:     "hdfs",
	svargs.ReferenceFlag: "reference",
	svargs.CNVCallsFlag:  "cnv_calls",
}

// Stager stages pipeline inputs into WorkDir.
type Stager struct {
	// WorkDir is the destination directory. Any file-package path works,
	// e.g. "s3://bucket/prefix".
	WorkDir string
	// Flags lists the arguments whose files are staged. Defaults to
	// DefaultFlags.
	Flags []string
	// Names overrides the staged base name per flag. By default the input
	// is staged as hdfs.<ext>, the reference as reference.<ext>, and CNV
	// calls as cnv_calls.<ext>, where <ext> is the source's extension.
	Names map[string]string
	// OutputName is the base name of the rewritten -O prefix. Defaults to
	// DefaultOutputName.
	OutputName string
	// Verify reads each copy back and compares checksums.
	Verify bool
}

// StagedFile records one copy.
type StagedFile struct {
	// Flag is the argument the file belongs to.
	Flag     string
	Src, Dst string
	Size     int64
	// Checksum is the seahash of the contents.
	Checksum uint64
}

// Staged describes the result of Stage.
type Staged struct {
	Files []StagedFile
	// OutputPrefix is the rewritten -O value; OutputVCF the non-complex
	// VCF the pipeline writes under it.
	OutputPrefix, OutputVCF string
	// index is the .fai of a staged FASTA reference, copied or generated.
	index string
}

type copyJob struct {
	flag     string
	src, dst string
	optional bool
}

// Stage copies the staged files of args into WorkDir and returns a new
// argument list pointing at the copies, with -O moved into WorkDir. args
// is not modified. FASTA references bring their .fai and .dict along; a
// missing .fai is generated in WorkDir.
func (s *Stager) Stage(ctx context.Context, args svargs.List) (svargs.List, *Staged, error) {
	if s.WorkDir == "" {
		return nil, nil, errors.E(errors.Invalid, "stage: empty work directory")
	}
	flags := s.Flags
	if len(flags) == 0 {
		flags = DefaultFlags
	}
	staged := args.Clone()
	var (
		jobs []copyJob
		// index is the .fai a staged FASTA reference needs.
		index string
	)
	for _, flag := range flags {
		src, ok := args.Value(flag)
		if !ok {
			if flag == svargs.CNVCallsFlag {
				continue
			}
			return nil, nil, errors.E(errors.NotExist, fmt.Sprintf("stage: no value for %s in %v", flag, args))
		}
		dst := join(s.WorkDir, s.name(flag, src))
		jobs = append(jobs, copyJob{flag: flag, src: src, dst: dst})
		if flag == svargs.ReferenceFlag && reference.GuessFormat(src) == reference.FASTA {
			srcCompanions, dstCompanions := reference.Companions(src), companions(dst)
			for i, c := range srcCompanions {
				jobs = append(jobs, copyJob{flag: flag, src: c, dst: dstCompanions[i], optional: true})
			}
			index = dstCompanions[0]
		}
		if err := staged.Set(flag, dst); err != nil {
			return nil, nil, err
		}
	}
	outputName := s.OutputName
	if outputName == "" {
		outputName = DefaultOutputName
	}
	result := &Staged{OutputPrefix: join(s.WorkDir, outputName)}
	result.OutputVCF = svargs.OutputVCF(result.OutputPrefix)
	if err := staged.Set(svargs.OutputFlag, result.OutputPrefix); err != nil {
		return nil, nil, err
	}

	copied := make([]*StagedFile, len(jobs))
	err := traverse.Each(len(jobs), func(i int) error {
		job := jobs[i]
		if job.optional {
			if _, err := file.Stat(ctx, job.src); err != nil {
				if notExist(err) {
					return nil
				}
				return err
			}
		}
		f, err := s.copy(ctx, job)
		if err != nil {
			return err
		}
		copied[i] = f
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	for _, f := range copied {
		if f != nil {
			result.Files = append(result.Files, *f)
		}
	}
	if index != "" {
		result.index = index
		if err := s.ensureIndex(ctx, staged, result); err != nil {
			return nil, nil, err
		}
	}
	log.Printf("stage: staged %d files into %s", len(result.Files), s.WorkDir)
	return staged, result, nil
}

func (s *Stager) name(flag, src string) string {
	if name, ok := s.Names[flag]; ok {
		return name
	}
	stem, ok := defaultStems[flag]
	if !ok {
		stem = strings.TrimLeft(flag, "-")
	}
	return stem + extension(src)
}

// extension returns the file extension of path, keeping a ".gz" suffix
// together with the extension before it.
func extension(path string) string {
	base := path[strings.LastIndexByte(path, '/')+1:]
	gz := ""
	if strings.HasSuffix(base, ".gz") {
		base, gz = strings.TrimSuffix(base, ".gz"), ".gz"
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return base[i:] + gz
	}
	return gz
}

func (s *Stager) copy(ctx context.Context, job copyJob) (*StagedFile, error) {
	size, sum, err := Copy(ctx, job.dst, job.src)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("stage: %s %s -> %s (%d bytes)", job.flag, job.src, job.dst, size)
	f := &StagedFile{Flag: job.flag, Src: job.src, Dst: job.dst, Size: size, Checksum: sum}
	if s.Verify {
		if err := verify(ctx, f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// verify reads f.Dst back and checks it against f.Checksum.
func verify(ctx context.Context, f *StagedFile) error {
	got, err := Checksum(ctx, f.Dst)
	if err != nil {
		return err
	}
	if got != f.Checksum {
		return errors.E(errors.Integrity,
			fmt.Sprintf("stage: checksum of %s is %x, want %x (copied from %s)", f.Dst, got, f.Checksum, f.Src))
	}
	return nil
}

// ensureIndex writes st.index next to a staged FASTA reference that came
// without one.
func (s *Stager) ensureIndex(ctx context.Context, args svargs.List, st *Staged) (err error) {
	for _, f := range st.Files {
		if f.Dst == st.index {
			return nil
		}
	}
	ref, _ := args.Value(svargs.ReferenceFlag)
	in, err := file.Open(ctx, ref)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	out, err := file.Create(ctx, st.index)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	log.Printf("stage: generating %s", st.index)
	return reference.GenerateIndex(out.Writer(ctx), in.Reader(ctx))
}

// companions returns the staged .fai and .dict paths of a FASTA reference
// staged at dst. Names without a FASTA extension keep their full name as
// the .dict stem.
func companions(dst string) []string {
	if c := reference.Companions(dst); c != nil {
		return c
	}
	return []string{dst + ".fai", dst + ".dict"}
}

// Cleanup removes the staged copies and any pipeline outputs under the
// staged prefix. Files that are already gone are ignored.
func (s *Stager) Cleanup(ctx context.Context, st *Staged) error {
	paths := svargs.Outputs(st.OutputPrefix)
	for _, f := range st.Files {
		paths = append(paths, f.Dst)
	}
	// A generated index is not listed in Files.
	if st.index != "" {
		paths = append(paths, st.index)
	}
	var firstErr error
	for _, p := range dedup(paths) {
		if err := file.Remove(ctx, p); err != nil && !notExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// join appends name to dir, which may be a local path or a URL such as
// s3://bucket/prefix.
func join(dir, name string) string {
	return strings.TrimRight(dir, "/") + "/" + name
}

func dedup(paths []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Copy copies src to dst and returns the number of bytes and their seahash.
func Copy(ctx context.Context, dst, src string) (n int64, sum uint64, err error) {
	in, err := file.Open(ctx, src)
	if err != nil {
		return 0, 0, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	out, err := file.Create(ctx, dst)
	if err != nil {
		return 0, 0, err
	}
	defer file.CloseAndReport(ctx, out, &err)
	h := seahash.New()
	if n, err = io.Copy(io.MultiWriter(out.Writer(ctx), h), in.Reader(ctx)); err != nil {
		return 0, 0, errors.E(err, fmt.Sprintf("stage: copying %s to %s", src, dst))
	}
	return n, h.Sum64(), nil
}

// Checksum returns the seahash of the file at path.
func Checksum(ctx context.Context, path string) (sum uint64, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	h := seahash.New()
	if _, err = io.Copy(h, in.Reader(ctx)); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func notExist(err error) bool {
	return errors.Is(errors.NotExist, err) || os.IsNotExist(errors.Recover(err).Err)
}
