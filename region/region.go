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

// Package region defines the genomic-interval types shared by the coverage
// engine: user-supplied target regions read from BED, and the plain
// Interval that StitchRegions merges. The processing windows and
// sub-region slices derived from regions are defined in package coverage.
package region

import "strings"

// NormalizeChrom strips a single leading "chr" from a chromosome name, so
// that BAM references and BED chromosomes compare equal regardless of which
// naming convention the input used.
func NormalizeChrom(chrom string) string {
	if strings.HasPrefix(chrom, "chr") {
		return chrom[3:]
	}
	return chrom
}

// Region is an immutable, half-open genomic interval with identity. It is
// never mutated after construction; WindowPlanner produces new Region values
// (clipped slices) rather than editing existing ones.
type Region struct {
	Chrom string
	Start int
	Stop  int
	// Name identifies the region within its SetTag; defaults to the BED
	// line's ordinal when the BED has no name column.
	Name string
	// SetTag identifies which user-supplied region file this Region came
	// from.
	SetTag string
	// Index is the monotonic ingestion ordinal, assigned at BED read time.
	Index int
}

// Len returns Stop - Start.
func (r Region) Len() int { return r.Stop - r.Start }

// Overlaps reports whether r intersects the half-open interval [start, stop).
func (r Region) Overlaps(start, stop int) bool {
	return r.Start < stop && start < r.Stop
}

// Clip returns r's intersection with [start, stop), preserving Name, SetTag
// and Index. The caller must ensure r.Overlaps(start, stop).
func (r Region) Clip(start, stop int) Region {
	c := r
	if c.Start < start {
		c.Start = start
	}
	if c.Stop > stop {
		c.Stop = stop
	}
	return c
}
