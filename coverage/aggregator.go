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
	"math"
	"sort"
)

// Version identifies the on-disk report/database schema this engine
// produces, recorded in both the JSON report and the database's
// coveragekit table (coveragekit's original covbam.py stamped an
// equivalent field).
const Version = "1.0"

// maxInsertSamples caps how many insert-size observations Aggregate
// retains, so that very deep whole-genome runs don't grow the sample
// slice without bound (spec.md §9 design notes).
const maxInsertSamples = 10_000_000

// BamReport is the final, whole-run summary Aggregate produces. Per-region
// breadth/on-target results are reported separately by the regionset
// package, which consumes the SubRegionReports Aggregate returns alongside
// BamReport.
type BamReport struct {
	Version       string
	InputBam      string
	ReadsCounted  int64
	Uncounted     UncountedCounts
	InsertMean    float64 // NaN if no proper-pair observations
	InsertStdDev  float64 // NaN if fewer than 2 observations
	GenomeAverage float64 // 0 unless genome-wide accumulation was requested
	Genome        bool
}

// Aggregate folds per-window WindowReports, supplied in any order, into one
// BamReport plus the corrected per-slice SubRegionReports for
// regionset.Accumulator to consume. It first sorts reports in place by
// Window.Index (genome order).
//
// Grounded on coveragekit's original covbam.py report assembly: seam
// correction removes reads double-counted where a window's BAM iterator
// reported a read that was already (or will be) reported by the
// neighboring window, identified as the intersection of one window's
// LastColumnReads with the chromosome-adjacent next window's
// FirstColumnReads.
func Aggregate(reports []WindowReport, inputBam string, cfg Config) (BamReport, []SubRegionReport) {
	sort.Slice(reports, func(i, j int) bool { return reports[i].Window.Index < reports[j].Window.Index })

	var totalReads int64
	var uncounted UncountedCounts
	var inserts []int
	var genomeSum int64
	var genomeBases int64

	for i := range reports {
		r := &reports[i]
		totalReads += r.ReadsCounted
		uncounted.Unmapped += r.Uncounted.Unmapped
		uncounted.Secondary += r.Uncounted.Secondary
		uncounted.Supplementary += r.Uncounted.Supplementary
		uncounted.QCFail += r.Uncounted.QCFail
		uncounted.LowMapQ += r.Uncounted.LowMapQ
		uncounted.Duplicate += r.Uncounted.Duplicate

		if len(inserts) < maxInsertSamples {
			room := maxInsertSamples - len(inserts)
			if room < len(r.InsertSizes) {
				inserts = append(inserts, r.InsertSizes[:room]...)
			} else {
				inserts = append(inserts, r.InsertSizes...)
			}
		}

		if cfg.Genome {
			genomeSum += r.GenomeCoverageSum
			genomeBases += int64(r.Window.Len())
		}

		if i+1 < len(reports) {
			next := &reports[i+1]
			if next.Window.Chrom == r.Window.Chrom && next.Window.Start == r.Window.Stop {
				dup := intersectReadSets(r.LastColumnReads, next.FirstColumnReads)
				totalReads -= int64(dup)
				correctStraddlingSubRegions(r, next)
			}
		}
	}

	mean, stddev := math.NaN(), math.NaN()
	if n := len(inserts); n > 0 {
		var sum float64
		for _, v := range inserts {
			sum += float64(v)
		}
		mean = sum / float64(n)
		if n > 1 {
			var sqSum float64
			for _, v := range inserts {
				d := float64(v) - mean
				sqSum += d * d
			}
			stddev = math.Sqrt(sqSum / float64(n-1))
		}
	}

	var genomeAvg float64
	if cfg.Genome && genomeBases > 0 {
		genomeAvg = float64(genomeSum) / float64(genomeBases)
	}

	var allSubRegions []SubRegionReport
	for _, r := range reports {
		allSubRegions = append(allSubRegions, r.SubRegions...)
	}

	return BamReport{
		Version:       Version,
		InputBam:      inputBam,
		ReadsCounted:  totalReads,
		Uncounted:     uncounted,
		InsertMean:    mean,
		InsertStdDev:  stddev,
		GenomeAverage: genomeAvg,
		Genome:        cfg.Genome,
	}, allSubRegions
}

func intersectReadSets(a, b map[string]bool) int {
	n := 0
	for id := range a {
		if b[id] {
			n++
		}
	}
	return n
}

// correctStraddlingSubRegions decrements the on-target count of any
// sub-region slice present in both adjacent windows (i.e. a user region
// whose span straddles the window seam) by one, compensating for the read
// that both slices independently counted as overlapping. The later
// window's copy is chosen arbitrarily but consistently as the one
// adjusted.
func correctStraddlingSubRegions(first, second *WindowReport) {
	if intersectReadSets(first.LastColumnReads, second.FirstColumnReads) == 0 {
		return
	}
	inFirst := make(map[string]bool, len(first.SubRegions))
	for _, sr := range first.SubRegions {
		inFirst[sr.Region.SetTag+"\x00"+sr.Region.Name] = true
	}
	for i := range second.SubRegions {
		key := second.SubRegions[i].Region.SetTag + "\x00" + second.SubRegions[i].Region.Name
		if inFirst[key] && second.SubRegions[i].OnTarget > 0 {
			second.SubRegions[i].OnTarget--
		}
	}
}
