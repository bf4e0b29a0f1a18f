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
	"sort"

	"github.com/sheenams/coveragekit/region"
)

// PlannedWindow pairs a ProcessingWindow with the user regions clipped to
// it, in ascending Start order (ties broken by Index, the BED ingestion
// ordinal, for determinism).
type PlannedWindow struct {
	Window     ProcessingWindow
	SubRegions []SubRegionSlice
}

// Plan tiles every chromosome in chroms (BAM header order, which defines
// genome order throughout the engine) into fixed windowSize windows, the
// last window of each chromosome truncated to its length, and assigns each
// user region to every window it overlaps, clipped to that window.
//
// Chromosome names are compared after region.NormalizeChrom on both sides,
// so "chr1" in a BED and "1" in a BAM header are treated as the same
// reference (spec.md §9 open question: symmetric "chr" stripping).
func Plan(chroms []Chrom, regions []region.Region, windowSize int) []PlannedWindow {
	byChrom := make(map[string][]region.Region, len(chroms))
	for _, r := range regions {
		key := region.NormalizeChrom(r.Chrom)
		byChrom[key] = append(byChrom[key], r)
	}
	for _, rs := range byChrom {
		sort.Slice(rs, func(i, j int) bool {
			if rs[i].Start != rs[j].Start {
				return rs[i].Start < rs[j].Start
			}
			return rs[i].Index < rs[j].Index
		})
	}

	var planned []PlannedWindow
	windowIndex := 0
	for _, c := range chroms {
		chromRegions := byChrom[region.NormalizeChrom(c.Name)]
		next := 0  // next chromRegions index not yet made active
		var active []region.Region

		for start := 0; start < c.Length; start += windowSize {
			stop := start + windowSize
			if stop > c.Length {
				stop = c.Length
			}

			for next < len(chromRegions) && chromRegions[next].Start < stop {
				active = append(active, chromRegions[next])
				next++
			}
			kept := active[:0]
			for _, r := range active {
				if r.Stop > start {
					kept = append(kept, r)
				}
			}
			active = kept

			var subs []SubRegionSlice
			for _, r := range active {
				if r.Overlaps(start, stop) {
					subs = append(subs, SubRegionSlice{Region: r.Clip(start, stop)})
				}
			}
			sort.Slice(subs, func(i, j int) bool {
				if subs[i].Start != subs[j].Start {
					return subs[i].Start < subs[j].Start
				}
				return subs[i].Index < subs[j].Index
			})
			for i := range subs {
				subs[i].Key = i
			}

			planned = append(planned, PlannedWindow{
				Window: ProcessingWindow{
					Chrom: c.Name,
					Start: start,
					Stop:  stop,
					Index: windowIndex,
				},
				SubRegions: subs,
			})
			windowIndex++
		}
	}
	return planned
}
