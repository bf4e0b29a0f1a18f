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

// Package regionset folds a run's per-window, per-slice coverage results
// (coverage.SubRegionReport) back into one row per user-supplied region,
// and rolls those rows up into per-region-set summaries.
package regionset

import (
	"sort"

	"github.com/grailbio/base/log"
	"github.com/sheenams/coveragekit/coverage"
	"github.com/sheenams/coveragekit/region"
)

// RegionResult is one user-supplied region's final, whole-region coverage
// result, joined across however many windows its span was split over.
// SubRegions is the stitched (disjoint, sorted) list of the distinct BED
// entries that shared this region's name — a single exon split across a
// window boundary is rejoined into one interval by region.StitchRegions;
// distinct exons of a multi-exon gene remain separate.
type RegionResult struct {
	Name           string
	SetTag         string
	Chrom          string
	Start          int
	Stop           int
	SubRegions     []region.Interval
	CoverageSum    int64
	OnTarget       int64
	BreadthByLevel map[uint32]float64
}

// Length returns the sum of SubRegions' lengths (not Stop - Start, which
// would also count any gaps between disjoint sub-regions such as introns).
func (r RegionResult) Length() int {
	var n int
	for _, iv := range r.SubRegions {
		n += iv.Stop - iv.Start
	}
	return n
}

// AverageCoverage returns CoverageSum / Length, or 0 for a zero-length
// region.
func (r RegionResult) AverageCoverage() float64 {
	if r.Length() == 0 {
		return 0
	}
	return float64(r.CoverageSum) / float64(r.Length())
}

type regionKey struct{ setTag, name string }

type regionAccum struct {
	chrom        string
	rawIntervals []region.Interval
	coverageSum  int64
	onTarget     int64
	intervals    []coverage.LevelInterval
}

// Accumulator joins coverage.SubRegionReport values, which arrive one per
// (window, sub-region slice), into one running total per (SetTag, Name).
//
// Grounded on coveragekit's original CoverageRegions (original_source
// coveragekit/utils/db.py and region.py): a region is identified by name
// within its set, independent of how many processing windows its span was
// split across.
type Accumulator struct {
	thresholds []uint32
	byKey      map[regionKey]*regionAccum
	warned     map[regionKey]bool
}

// New constructs an Accumulator that will compute breadth at each of
// thresholds (the caller's original, pre-0-prepend list).
func New(thresholds []uint32) *Accumulator {
	return &Accumulator{
		thresholds: thresholds,
		byKey:      map[regionKey]*regionAccum{},
		warned:     map[regionKey]bool{},
	}
}

// Add folds one window's worth of SubRegionReports into the running
// per-region totals.
func (a *Accumulator) Add(reports []coverage.SubRegionReport) {
	for _, sr := range reports {
		key := regionKey{setTag: sr.Region.SetTag, name: sr.Region.Name}
		acc, ok := a.byKey[key]
		if !ok {
			acc = &regionAccum{chrom: sr.Region.Chrom}
			a.byKey[key] = acc
		} else if acc.chrom != sr.Region.Chrom && !a.warned[key] {
			// Pseudoautosomal regions (or operator error) can reuse the same
			// name across chromosomes; keep the first-seen chromosome and
			// warn rather than silently merge unrelated loci.
			log.Error.Printf("regionset: region %q (set %q) seen on both %q and %q; keeping %q",
				key.name, key.setTag, acc.chrom, sr.Region.Chrom, acc.chrom)
			a.warned[key] = true
		}
		acc.rawIntervals = append(acc.rawIntervals, region.Interval{Start: sr.Region.Start, Stop: sr.Region.Stop})
		acc.coverageSum += sr.CoverageSum
		acc.onTarget += sr.OnTarget
		acc.intervals = append(acc.intervals, sr.LevelIntervals...)
	}
}

// Results returns one RegionResult per accumulated region, sorted by
// (SetTag, Name) for deterministic output.
func (a *Accumulator) Results() []RegionResult {
	keys := make([]regionKey, 0, len(a.byKey))
	for k := range a.byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].setTag != keys[j].setTag {
			return keys[i].setTag < keys[j].setTag
		}
		return keys[i].name < keys[j].name
	})

	results := make([]RegionResult, 0, len(keys))
	for _, k := range keys {
		acc := a.byKey[k]
		stitched := region.StitchRegions(acc.rawIntervals)
		start, stop := 0, 0
		if len(stitched) > 0 {
			start, stop = stitched[0].Start, stitched[len(stitched)-1].Stop
		}
		var length int
		for _, iv := range stitched {
			length += iv.Stop - iv.Start
		}
		results = append(results, RegionResult{
			Name:           k.name,
			SetTag:         k.setTag,
			Chrom:          acc.chrom,
			Start:          start,
			Stop:           stop,
			SubRegions:     stitched,
			CoverageSum:    acc.coverageSum,
			OnTarget:       acc.onTarget,
			BreadthByLevel: Calc(a.thresholds, length, acc.intervals),
		})
	}
	return results
}

// Calc computes, for each requested threshold, the fraction of length
// covered by depth runs at or above that threshold. Grounded on
// original_source/coveragekit/utils/levels.py's percentage-at-or-above
// computation: thresholds are walked in descending order, accumulating
// run lengths as each lower threshold is reached, since the LevelInterval
// buckets partition [0, length) into exactly one label per position.
func Calc(thresholds []uint32, length int, intervals []coverage.LevelInterval) map[uint32]float64 {
	result := make(map[uint32]float64, len(thresholds))
	if length <= 0 {
		for _, t := range thresholds {
			result[t] = 0
		}
		return result
	}

	lengthByLabel := map[uint32]int64{}
	for _, iv := range intervals {
		lengthByLabel[iv.Threshold] += int64(iv.Stop - iv.Start)
	}
	labels := make([]uint32, 0, len(lengthByLabel))
	for l := range lengthByLabel {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] > labels[j] })

	sortedThresholds := append([]uint32(nil), thresholds...)
	sort.Slice(sortedThresholds, func(i, j int) bool { return sortedThresholds[i] > sortedThresholds[j] })

	idx := 0
	var running int64
	for _, t := range sortedThresholds {
		for idx < len(labels) && labels[idx] >= t {
			running += lengthByLabel[labels[idx]]
			idx++
		}
		result[t] = float64(running) / float64(length)
	}
	return result
}

// SetSummary rolls up every region in one region set (SetTag) into a
// set-level total, mirroring coveragekit's original per-panel summary row.
type SetSummary struct {
	SetTag          string
	RegionCount     int
	TotalLength     int64
	TotalOnTarget   int64
	AverageCoverage float64
	BreadthByLevel  map[uint32]float64
}

// Summarize groups results (as returned by Accumulator.Results) by SetTag
// and rolls each group up into a SetSummary, sorted by SetTag.
func Summarize(results []RegionResult) []SetSummary {
	type accum struct {
		count          int
		length         int64
		onTarget       int64
		coverageSum    int64
		lengthByLevel  map[uint32]float64 // weighted sum of breadth*length, divided at the end
	}
	bySet := map[string]*accum{}
	var order []string
	for _, r := range results {
		a, ok := bySet[r.SetTag]
		if !ok {
			a = &accum{lengthByLevel: map[uint32]float64{}}
			bySet[r.SetTag] = a
			order = append(order, r.SetTag)
		}
		a.count++
		length := int64(r.Length())
		a.length += length
		a.onTarget += r.OnTarget
		a.coverageSum += r.CoverageSum
		for t, frac := range r.BreadthByLevel {
			a.lengthByLevel[t] += frac * float64(length)
		}
	}
	sort.Strings(order)

	summaries := make([]SetSummary, 0, len(order))
	for _, tag := range order {
		a := bySet[tag]
		breadth := make(map[uint32]float64, len(a.lengthByLevel))
		for t, weighted := range a.lengthByLevel {
			if a.length > 0 {
				breadth[t] = weighted / float64(a.length)
			}
		}
		var avg float64
		if a.length > 0 {
			avg = float64(a.coverageSum) / float64(a.length)
		}
		summaries = append(summaries, SetSummary{
			SetTag:          tag,
			RegionCount:     a.count,
			TotalLength:     a.length,
			TotalOnTarget:   a.onTarget,
			AverageCoverage: avg,
			BreadthByLevel:  breadth,
		})
	}
	return summaries
}
