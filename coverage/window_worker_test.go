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

package coverage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheenams/coveragekit/region"
)

func oneRegionSlice(name string, start, stop int) []SubRegionSlice {
	return []SubRegionSlice{{
		Region: region.Region{Chrom: "1", Start: start, Stop: stop, Name: name, SetTag: "default"},
		Key:    0,
	}}
}

// TestProcessEmptyBam is scenario S1: zero reads, one region.
func TestProcessEmptyBam(t *testing.T) {
	w := ProcessingWindow{Chrom: "1", Start: 0, Stop: 300, Index: 0}
	subs := oneRegionSlice("g1", 100, 200)
	cfg := Config{Thresholds: []uint32{5}, MinMapQ: 1}

	report := Process(w, subs, nil, cfg)

	require.Equal(t, int64(0), report.ReadsCounted)
	require.Equal(t, int64(0), report.SubRegions[0].OnTarget)
	require.Equal(t, int64(0), report.SubRegions[0].CoverageSum)
}

// TestProcessSingleReadNoClipping is scenario S2: one 100bp read, mapq 60,
// over a 200bp region, no mate.
func TestProcessSingleReadNoClipping(t *testing.T) {
	w := ProcessingWindow{Chrom: "1", Start: 0, Stop: 300, Index: 0}
	subs := oneRegionSlice("g1", 100, 300)
	cfg := Config{Thresholds: []uint32{5}, MinMapQ: 1}

	reads := []Alignment{{
		Name: "r1", Start: 150, MapQ: 60, Read1: true,
		Cigar: []CigarOp{{Op: CigarMatch, Len: 100}},
	}}
	report := Process(w, subs, reads, cfg)

	require.Equal(t, int64(1), report.ReadsCounted)
	require.Equal(t, int64(1), report.SubRegions[0].OnTarget)
	sr := report.SubRegions[0]
	require.Equal(t, int64(100), sr.CoverageSum) // 100 bases at depth 1
	require.InDelta(t, 0.5, float64(sr.CoverageSum)/float64(200), 1e-9)

	var breadth5 int
	for _, iv := range sr.LevelIntervals {
		if iv.Threshold >= 5 {
			breadth5 += iv.Stop - iv.Start
		}
	}
	require.Equal(t, 0, breadth5)
}

// TestProcessMateOverlapSuppression is scenario S3: two mates whose aligned
// blocks overlap by 50bp; the overlap must be counted once, not twice. The
// leftward (TemplateLen>=0) mate's CIGAR walk truncates at the rightward
// mate's start (MatePos), so it contributes only its non-overlapping
// [100,150) span; the rightward mate supplies the rest, [150,250)
// untouched.
func TestProcessMateOverlapSuppression(t *testing.T) {
	w := ProcessingWindow{Chrom: "1", Start: 0, Stop: 400, Index: 0}
	subs := oneRegionSlice("g1", 0, 400)
	cfg := Config{Thresholds: []uint32{1}, MinMapQ: 1}

	reads := []Alignment{
		{Name: "pair1", Start: 100, MapQ: 60, Read1: true, ProperPair: true, TemplateLen: 150, MatePos: 150,
			Cigar: []CigarOp{{Op: CigarMatch, Len: 100}}},
		{Name: "pair1", Start: 150, MapQ: 60, Read2: true, ProperPair: true, TemplateLen: -150, MatePos: 100,
			Cigar: []CigarOp{{Op: CigarMatch, Len: 100}}},
	}
	report := Process(w, subs, reads, cfg)

	require.Equal(t, int64(2), report.ReadsCounted)
	require.Equal(t, []int{150}, report.InsertSizes)

	sr := report.SubRegions[0]
	// positions [100,150) depth 1 (50 bases, read1 truncated at the
	// overlap), [150,250) depth 1 (100 bases, read2 untouched): total
	// depth-bases = 150, matching non-overlapping union length.
	require.Equal(t, int64(150), sr.CoverageSum)
}

// TestProcessDiscordantPairOverlapNotSuppressed: two same-named alignments
// that overlap but are NOT a properly paired, non-negative-TLEN template
// (e.g. one mate remapped to an unexpected locus) must each contribute
// their full depth — mate-overlap suppression only applies to the
// proper-pair/TLEN>=0 case spec.md §4.4 names.
func TestProcessDiscordantPairOverlapNotSuppressed(t *testing.T) {
	w := ProcessingWindow{Chrom: "1", Start: 0, Stop: 400, Index: 0}
	subs := oneRegionSlice("g1", 0, 400)
	cfg := Config{Thresholds: []uint32{1}, MinMapQ: 1}

	reads := []Alignment{
		{Name: "discordant", Start: 100, MapQ: 60, Read1: true, ProperPair: false, MatePos: 150,
			Cigar: []CigarOp{{Op: CigarMatch, Len: 100}}},
		{Name: "discordant", Start: 150, MapQ: 60, Read2: true, ProperPair: false, MatePos: 100,
			Cigar: []CigarOp{{Op: CigarMatch, Len: 100}}},
	}
	report := Process(w, subs, reads, cfg)

	sr := report.SubRegions[0]
	// Both mates contribute their full 100bp, overlapping [150,200): total
	// depth-bases = 200, not the 150 a proper pair would produce.
	require.Equal(t, int64(200), sr.CoverageSum)
	require.Empty(t, report.InsertSizes)
}

// TestProcessMateTruncationStopsAtFirstReachedBoundary exercises a CIGAR
// with an internal gap (deletion) that straddles the truncation point: once
// the walk reaches the mate's start it must stop immediately, discarding
// any later block entirely rather than resuming past the gap.
func TestProcessMateTruncationStopsAtFirstReachedBoundary(t *testing.T) {
	w := ProcessingWindow{Chrom: "1", Start: 0, Stop: 400, Index: 0}
	subs := oneRegionSlice("g1", 0, 400)
	cfg := Config{Thresholds: []uint32{1}, MinMapQ: 1}

	// 60M20D60M starting at 100: aligned [100,160), gap [160,180), aligned
	// [180,240). The mate starts at 170, inside the deletion, so the walk
	// truncates the deletion to 10bp (stopping at 170) and must never
	// reach the second aligned block at all — the first aligned block
	// itself is unaffected since it ends at 160, before the mate start.
	read := Alignment{
		Name: "spliced", Start: 100, MapQ: 60, Read1: true, ProperPair: true, TemplateLen: 200, MatePos: 170,
		Cigar: []CigarOp{{Op: CigarMatch, Len: 60}, {Op: CigarDeletion, Len: 20}, {Op: CigarMatch, Len: 60}},
	}
	blocks, insertLength, endPos := walkCigar(read)
	require.Equal(t, []Interval{{Start: 100, Stop: 160}}, blocks)
	require.Equal(t, 60, insertLength)
	require.Equal(t, 170, endPos)
}

// TestProcessDuplicateHandling is scenario S6.
func TestProcessDuplicateHandling(t *testing.T) {
	w := ProcessingWindow{Chrom: "1", Start: 0, Stop: 300, Index: 0}
	subs := oneRegionSlice("g1", 100, 300)
	read := Alignment{
		Name: "r1", Start: 150, MapQ: 60, Read1: true, Duplicate: true,
		Cigar: []CigarOp{{Op: CigarMatch, Len: 100}},
	}

	disallowed := Process(w, subs, []Alignment{read}, Config{Thresholds: []uint32{5}, MinMapQ: 1, AllowDups: false})
	require.Equal(t, int64(0), disallowed.ReadsCounted)
	require.Equal(t, int64(1), disallowed.Uncounted.Duplicate)

	allowed := Process(w, subs, []Alignment{read}, Config{Thresholds: []uint32{5}, MinMapQ: 1, AllowDups: true})
	require.Equal(t, int64(1), allowed.ReadsCounted)
	require.Equal(t, int64(100), allowed.SubRegions[0].CoverageSum)
}

func TestProcessLowMapQExcluded(t *testing.T) {
	w := ProcessingWindow{Chrom: "1", Start: 0, Stop: 300, Index: 0}
	subs := oneRegionSlice("g1", 100, 300)
	read := Alignment{Name: "r1", Start: 150, MapQ: 0, Cigar: []CigarOp{{Op: CigarMatch, Len: 100}}}

	report := Process(w, subs, []Alignment{read}, Config{Thresholds: []uint32{5}, MinMapQ: 1})
	require.Equal(t, int64(0), report.ReadsCounted)
	require.Equal(t, int64(1), report.Uncounted.LowMapQ)
}

func TestProcessUnmappedSecondarySupplementaryQCFailExcluded(t *testing.T) {
	w := ProcessingWindow{Chrom: "1", Start: 0, Stop: 100, Index: 0}
	reads := []Alignment{
		{Name: "a", Unmapped: true},
		{Name: "b", Secondary: true, MapQ: 60},
		{Name: "c", Supplementary: true, MapQ: 60},
		{Name: "d", QCFail: true, MapQ: 60},
	}
	report := Process(w, nil, reads, Config{Thresholds: []uint32{5}, MinMapQ: 1})
	require.Equal(t, int64(0), report.ReadsCounted)
	require.Equal(t, int64(1), report.Uncounted.Unmapped)
	require.Equal(t, int64(1), report.Uncounted.Secondary)
	require.Equal(t, int64(1), report.Uncounted.Supplementary)
	require.Equal(t, int64(1), report.Uncounted.QCFail)
}

func TestProcessFirstAndLastColumnReads(t *testing.T) {
	// A read spanning [90, 210) over window [100, 200) touches both the
	// first and last columns.
	w := ProcessingWindow{Chrom: "1", Start: 100, Stop: 200, Index: 1}
	read := Alignment{Name: "spanner", Start: 90, MapQ: 60, Read1: true, Cigar: []CigarOp{{Op: CigarMatch, Len: 120}}}

	report := Process(w, nil, []Alignment{read}, Config{Thresholds: []uint32{5}, MinMapQ: 1})
	require.True(t, report.FirstColumnReads["spanner.1"])
	require.True(t, report.LastColumnReads["spanner.1"])
}
