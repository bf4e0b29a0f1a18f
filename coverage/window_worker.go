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

import "github.com/sheenams/coveragekit/region"

// Config carries the run-wide settings every WindowWorker applies
// identically, so that windows processed in parallel (via traverse.Each,
// see Run in run.go) are pure functions of their inputs.
type Config struct {
	Thresholds []uint32
	MinMapQ    int
	AllowDups  bool
	Genome     bool // whether to also accumulate whole-window depth/level stats
}

// UncountedCounts tallies alignments excluded from ReadsCounted, broken
// down by the reason (spec.md §4.2 ingest filter, §7 error taxonomy is
// silent on these since they are expected, not erroneous, outcomes).
type UncountedCounts struct {
	Unmapped      int64
	Secondary     int64
	Supplementary int64
	QCFail        int64
	LowMapQ       int64
	Duplicate     int64
}

// SubRegionReport is one sub-region slice's contribution from a single
// window. RegionSetAccumulator later folds every window's SubRegionReport
// for the same (SetTag, Name) into one region-level result.
type SubRegionReport struct {
	Region         region.Region
	OnTarget       int64
	CoverageSum    int64
	LevelIntervals []LevelInterval
}

// WindowReport is everything a WindowWorker produces for one
// ProcessingWindow. Aggregator folds WindowReports, in genome order, into
// the final BamReport.
type WindowReport struct {
	Window            ProcessingWindow
	ReadsCounted      int64
	Uncounted         UncountedCounts
	FirstColumnReads  map[string]bool
	LastColumnReads   map[string]bool
	InsertSizes       []int
	GenomeCoverageSum int64
	GenomeLevels      []LevelInterval
	SubRegions        []SubRegionReport
}

// Process runs the full per-window pipeline over alignments, which must be
// supplied in coordinate order restricted to those overlapping
// [w.Start, w.Stop) on w.Chrom, and returns the window's WindowReport.
//
// Grounded on coveragekit's original BamReader.read() and RegionCaller
// (original_source coveragekit/utils/bam.py): filtering, then mate-overlap
// suppression, then a two-phase dispatch — sparse on-target counting
// against every passing alignment, and a dense per-base depth sweep that is
// skipped whenever only the window-level callback would be bound and
// genome-wide accumulation is off.
func Process(w ProcessingWindow, subregions []SubRegionSlice, alignments []Alignment, cfg Config) WindowReport {
	report := WindowReport{
		Window:           w,
		FirstColumnReads: map[string]bool{},
		LastColumnReads:  map[string]bool{},
		SubRegions:       make([]SubRegionReport, len(subregions)),
	}
	for i, sr := range subregions {
		report.SubRegions[i].Region = sr.Region
	}

	// insertTracker carries, per query name, the first-processed mate's own
	// (CIGAR-reconstructed length) + (gap to its mate's start) contribution,
	// until its partner arrives to complete the pair and emit one insert
	// size sample. Grounded on bam.py's read()'s readTracker dict; scoped to
	// one window the same way the original's is scoped to one BamReader.read
	// call, so a pair split across windows simply never completes (matching
	// the original's per-region granularity) rather than risking a
	// cross-window double-count.
	insertTracker := map[string]int{}

	var blocksByAlignment [][]Interval
	for _, a := range alignments {
		if a.Unmapped {
			report.Uncounted.Unmapped++
			continue
		}
		if a.Secondary {
			report.Uncounted.Secondary++
			continue
		}
		if a.Supplementary {
			report.Uncounted.Supplementary++
			continue
		}
		if a.QCFail {
			report.Uncounted.QCFail++
			continue
		}
		if a.MapQ < cfg.MinMapQ {
			report.Uncounted.LowMapQ++
			continue
		}
		if a.Duplicate && !cfg.AllowDups {
			report.Uncounted.Duplicate++
			continue
		}

		report.ReadsCounted++
		id := readIdentity(a)

		refStart, refStop := a.RefSpan()
		if refStart < w.Start {
			report.FirstColumnReads[id] = true
		}
		if refStop > w.Stop {
			report.LastColumnReads[id] = true
		}

		for i := range subregions {
			if refStart < subregions[i].Stop && subregions[i].Start < refStop {
				report.SubRegions[i].OnTarget++
			}
		}

		blocks, insertLength, endPos := walkCigar(a)
		blocksByAlignment = append(blocksByAlignment, blocks)

		if a.ProperPair {
			if partial, ok := insertTracker[a.Name]; ok {
				report.InsertSizes = append(report.InsertSizes, insertLength+partial)
				delete(insertTracker, a.Name)
			} else {
				insertTracker[a.Name] = insertLength + (a.MatePos - endPos)
			}
		}
	}

	runDepthSweep(w, subregions, blocksByAlignment, cfg, &report)
	return report
}

// walkCigar replays a's CIGAR from its true reference start, producing the
// depth-bearing blocks it contributes and the CIGAR-reconstructed insert
// length contribution described by spec.md §4.4 steps 4-5, grounded on
// bam.py's BamReader.read() coveragePos/insertLength loop: M/=/X add to
// both coverage and insert length, D/N add to coverage only (closing the
// current block), I adds to insert length only, S/H/P contribute nothing.
//
// When a is a properly paired, non-negative-TLEN record (the leftward mate
// of an FR pair, by convention), the walk stops the instant it would read
// past the mate's start (a.MatePos) rather than continuing into the
// overlap: the downstream mate supplies that depth and insert length
// instead, so the overlapping bases are never attributed twice. endPos is
// the reference position the walk actually reached, which may be short of
// a's true CIGAR-implied end when truncated this way.
func walkCigar(a Alignment) (blocks []Interval, insertLength, endPos int) {
	pos := a.Start
	blockStart := -1
	closeBlock := func() {
		if blockStart >= 0 {
			blocks = append(blocks, Interval{Start: blockStart, Stop: pos})
			blockStart = -1
		}
	}
	truncates := a.ProperPair && a.TemplateLen >= 0
	for _, op := range a.Cigar {
		switch {
		case consumesRef(op.Op):
			length := op.Len
			truncated := truncates && pos+length >= a.MatePos
			if truncated {
				length = a.MatePos - pos
				if length < 0 {
					length = 0
				}
			}
			if isAligned(op.Op) {
				if blockStart < 0 {
					blockStart = pos
				}
				pos += length
				insertLength += length
			} else {
				closeBlock()
				pos += length
			}
			if truncated {
				closeBlock()
				return blocks, insertLength, pos
			}
		case op.Op == CigarInsertion:
			insertLength += op.Len
		}
	}
	closeBlock()
	return blocks, insertLength, pos
}

// runDepthSweep implements Phase 2: per-base depth accumulation for every
// sub-region and, if cfg.Genome, the whole window. Depth is derived from a
// delta array built once from every alignment's (mate-overlap-clipped)
// aligned blocks, then swept position by position while region activation
// is maintained through an ActiveRegionDispatcher keyed by sub-region
// index. Stretches of the window covered by no sub-region are
// fast-forwarded over when genome-wide accumulation is disabled, since
// then only the (no-op) window-level callback would be invoked.
func runDepthSweep(w ProcessingWindow, subregions []SubRegionSlice, blocksByAlignment [][]Interval, cfg Config, report *WindowReport) {
	n := w.Len()
	if n <= 0 {
		return
	}
	deltas := make([]int32, n+1)
	for _, blocks := range blocksByAlignment {
		for _, b := range blocks {
			start, stop := b.Start, b.Stop
			if start < w.Start {
				start = w.Start
			}
			if stop > w.Stop {
				stop = w.Stop
			}
			if start >= stop {
				continue
			}
			deltas[start-w.Start]++
			deltas[stop-w.Start]--
		}
	}

	var windowMachine *LevelMachine
	if cfg.Genome {
		windowMachine = NewLevelMachine(w.Start, w.Stop, cfg.Thresholds)
	}
	windowCallback := func(pos int, depth uint32) {
		if windowMachine != nil {
			windowMachine.Add(pos, depth)
		}
	}

	dispatcher := NewActiveRegionDispatcher[int, uint32](windowCallback)
	machines := make([]*LevelMachine, len(subregions))

	starts := make([]int, len(subregions))
	for i, sr := range subregions {
		starts[i] = sr.Start
	}

	nextToActivate := 0
	// activate/evict sub-regions whose bounds have been reached as of pos.
	activate := func(pos int) {
		for nextToActivate < len(subregions) && subregions[nextToActivate].Start <= pos {
			i := nextToActivate
			machines[i] = NewLevelMachine(subregions[i].Start, subregions[i].Stop, cfg.Thresholds)
			m := machines[i]
			dispatcher.Insert(subregions[i].Key, func(pos int, depth uint32) { m.Add(pos, depth) })
			nextToActivate++
		}
	}
	evict := func(pos int) {
		for i, sr := range subregions {
			if machines[i] != nil && sr.Stop == pos {
				dispatcher.Remove(sr.Key)
			}
		}
	}

	depth := int64(0)
	pos := w.Start
	for pos < w.Stop {
		evict(pos)
		activate(pos)
		depth += int64(deltas[pos-w.Start])

		if dispatcher.Size() == 1 && !cfg.Genome {
			next := w.Stop
			if nextToActivate < len(subregions) && subregions[nextToActivate].Start < next {
				next = subregions[nextToActivate].Start
			}
			for p := pos + 1; p < next; p++ {
				depth += int64(deltas[p-w.Start])
			}
			pos = next
			continue
		}

		var d uint32
		if depth > 0 {
			d = uint32(depth)
		}
		dispatcher.Dispatch(pos, d)
		pos++
	}
	evict(w.Stop)

	if windowMachine != nil {
		sum, intervals := windowMachine.Report()
		report.GenomeCoverageSum = sum
		report.GenomeLevels = intervals
	}
	for i, m := range machines {
		if m == nil {
			// A sub-region whose Start was never reached (should not
			// happen: the sweep always spans [w.Start, w.Stop)) would
			// leave this nil; guard defensively rather than panic in
			// report assembly.
			continue
		}
		sum, intervals := m.Report()
		report.SubRegions[i].CoverageSum = sum
		report.SubRegions[i].LevelIntervals = intervals
	}
}
