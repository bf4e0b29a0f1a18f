// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bamio adapts biogo/hts BAM/BAI reading to the coverage engine's
// AlignmentReader interface. It is the only package in this module that
// imports biogo/hts, so the engine itself stays testable against literal
// alignment data.
//
// Grounded on, and substantially simplified from,
// encoding/bamprovider/bamprovider.go: this module's non-goals exclude
// distributed/S3 execution and PAM support, so bamio only needs local-file
// BAM+BAI access via indexed chunk seeking, not bamprovider's byte-sharding
// or biopb.Coord machinery.
package bamio

import (
	"context"
	"io"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"

	"github.com/sheenams/coveragekit/coverage"
	"github.com/sheenams/coveragekit/region"
)

// Reader provides indexed, windowed access to one BAM file. A Reader is
// safe for concurrent use by multiple goroutines: each ReadWindow call
// opens and closes its own file handle, rather than sharing a cursor, the
// same way bamprovider hands every shard its own *bamIterator.
type Reader struct {
	path      string
	indexPath string
	header    *sam.Header
	index     *bam.Index
}

// Open reads the BAM header and its .bai index (indexPath, or path+".bai"
// if empty) without reading any alignment records.
func Open(ctx context.Context, path, indexPath string) (*Reader, error) {
	if indexPath == "" {
		indexPath = path + ".bai"
	}

	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "bamio: could not open BAM file:", path)
	}
	br, err := bam.NewReader(f.Reader(ctx), 1)
	if err != nil {
		f.Close(ctx)
		return nil, errors.E(err, "bamio: could not read BAM header:", path)
	}
	header := br.Header()
	br.Close()
	if err := f.Close(ctx); err != nil {
		return nil, errors.E(err, "bamio: could not close BAM file:", path)
	}

	idxFile, err := file.Open(ctx, indexPath)
	if err != nil {
		return nil, errors.E(err, "bamio: could not open BAM index:", indexPath)
	}
	defer idxFile.Close(ctx)
	idx, err := bam.ReadIndex(idxFile.Reader(ctx))
	if err != nil {
		return nil, errors.E(err, "bamio: could not read BAM index:", indexPath)
	}

	return &Reader{path: path, indexPath: indexPath, header: header, index: idx}, nil
}

// Chroms returns the BAM header's reference sequences, in header (genome)
// order, for coverage.Plan.
func (r *Reader) Chroms() []coverage.Chrom {
	refs := r.header.Refs()
	chroms := make([]coverage.Chrom, len(refs))
	for i, ref := range refs {
		chroms[i] = coverage.Chrom{Name: ref.Name(), Length: ref.Len()}
	}
	return chroms
}

// findRef looks up the *sam.Reference matching name, comparing with
// region.NormalizeChrom on both sides so "chr1"/"1" naming mismatches
// between a BED and the BAM header don't cause a missed lookup.
func (r *Reader) findRef(name string) *sam.Reference {
	want := region.NormalizeChrom(name)
	for _, ref := range r.header.Refs() {
		if region.NormalizeChrom(ref.Name()) == want {
			return ref
		}
	}
	return nil
}

// ReadWindow implements coverage.AlignmentReader: it returns every
// alignment record overlapping [w.Start, w.Stop) on w.Chrom, in coordinate
// order, translated to coverage.Alignment.
func (r *Reader) ReadWindow(w coverage.ProcessingWindow) ([]coverage.Alignment, error) {
	ref := r.findRef(w.Chrom)
	if ref == nil {
		return nil, nil
	}
	chunks, err := r.index.Chunks(ref, w.Start, w.Stop)
	if err == index.ErrInvalid || len(chunks) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(err, "bamio: could not compute index chunks for", w.Chrom)
	}

	ctx := vcontext.Background()
	f, err := file.Open(ctx, r.path)
	if err != nil {
		return nil, errors.E(err, "bamio: could not open BAM file:", r.path)
	}
	defer f.Close(ctx)
	br, err := bam.NewReader(f.Reader(ctx), 1)
	if err != nil {
		return nil, errors.E(err, "bamio: could not open BAM reader:", r.path)
	}
	defer br.Close()

	if err := br.Seek(chunks[0].Begin); err != nil {
		return nil, errors.E(err, "bamio: could not seek BAM file:", r.path)
	}

	var alignments []coverage.Alignment
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, "bamio: error reading BAM record from:", r.path)
		}
		if rec.Ref == nil || rec.Ref.ID() != ref.ID() {
			break
		}
		if rec.Start() >= w.Stop {
			break
		}
		if rec.End() <= w.Start {
			continue
		}
		alignments = append(alignments, toAlignment(rec))
	}
	return alignments, nil
}

// toAlignment copies the fields WindowWorker needs out of a *sam.Record.
// It does not retain any reference into rec, so the caller is free to
// reuse/discard rec after the call.
func toAlignment(rec *sam.Record) coverage.Alignment {
	ops := make([]coverage.CigarOp, len(rec.Cigar))
	for i, op := range rec.Cigar {
		ops[i] = coverage.CigarOp{Op: cigarByte(op.Type()), Len: op.Len()}
	}
	flags := rec.Flags
	return coverage.Alignment{
		Name:          rec.Name,
		Start:         rec.Start(),
		Cigar:         ops,
		MapQ:          int(rec.MapQ),
		Unmapped:      flags&sam.Unmapped != 0,
		Secondary:     flags&sam.Secondary != 0,
		Supplementary: flags&sam.Supplementary != 0,
		QCFail:        flags&sam.QCFail != 0,
		Duplicate:     flags&sam.Duplicate != 0,
		Read1:         flags&sam.Read1 != 0,
		Read2:         flags&sam.Read2 != 0,
		ProperPair:    flags&sam.ProperPair != 0,
		TemplateLen:   rec.TemplateLen,
		MatePos:       rec.MatePos,
	}
}

func cigarByte(op sam.CigarOpType) byte {
	s := op.String()
	if len(s) == 0 {
		return coverage.CigarSoftClip
	}
	return s[0]
}
