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

// Package report renders a finished coverage run as JSON and/or a
// human-readable text summary, mirroring coveragekit's original
// covbam.py report() function.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/sheenams/coveragekit/coverage"
	"github.com/sheenams/coveragekit/regionset"
)

// RegionSetInfo is the caller-supplied (descriptor, BED path) pair used to
// label the regionStats section.
type RegionSetInfo struct {
	Tag  string
	File string
}

// regionSetStats is one region set's rolled-up section of the report.
type regionSetStats struct {
	File            string             `json:"file"`
	NumRegions      int                `json:"numRegions"`
	Length          int64              `json:"length"`
	AverageCoverage float64            `json:"avgCoverage"`
	CoverageLevels  map[string]float64 `json:"coverageLevels"`
}

// BamReportView is the exact shape serialized to JSON: string-keyed maps
// throughout (rather than coverage.UncountedCounts's struct fields, or
// uint32 threshold keys) so json.Marshal needs no custom MarshalJSON,
// except for the insert-size fields (see permissiveFloat).
type BamReportView struct {
	Version         string                    `json:"version"`
	InputBam        string                    `json:"inputBam"`
	AllReads        int64                     `json:"allReads"`
	ReadsCounted    int64                     `json:"readsCounted"`
	ReadsNotCounted map[string]int64          `json:"readsNotCounted"`
	InsertMean      permissiveFloat           `json:"insertMean"`
	InsertSD        permissiveFloat           `json:"insertSD"`
	Genome          *genomeStats              `json:"genome,omitempty"`
	OnTarget        map[string]int64          `json:"onTarget"`
	RegionStats     map[string]regionSetStats `json:"regionStats"`
}

type genomeStats struct {
	AverageCoverage float64 `json:"avgCoverage"`
}

// permissiveFloat serializes like float64, except NaN (undefined insert
// stats with fewer than 1-2 samples, spec.md §4.6) renders as the JSON
// string "NaN" rather than failing encoding/json's strict-JSON NaN
// rejection. encoding/json validates MarshalJSON output, so a bare NaN
// token is not an option.
type permissiveFloat float64

func (f permissiveFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) {
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(v)
}

func (f *permissiveFloat) UnmarshalJSON(data []byte) error {
	if string(data) == `"NaN"` || string(data) == "NaN" {
		*f = permissiveFloat(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = permissiveFloat(v)
	return nil
}

// Build assembles a BamReportView from the run's final BamReport and its
// per-region-set results.
func Build(br coverage.BamReport, sets []RegionSetInfo, results []regionset.RegionResult) BamReportView {
	view := BamReportView{
		Version:      br.Version,
		InputBam:     br.InputBam,
		ReadsCounted: br.ReadsCounted,
		ReadsNotCounted: map[string]int64{
			"unmapped":      br.Uncounted.Unmapped,
			"secondary":     br.Uncounted.Secondary,
			"supplementary": br.Uncounted.Supplementary,
			"qcFail":        br.Uncounted.QCFail,
			"lowMapQ":       br.Uncounted.LowMapQ,
			"duplicate":     br.Uncounted.Duplicate,
		},
		InsertMean:  permissiveFloat(br.InsertMean),
		InsertSD:    permissiveFloat(br.InsertStdDev),
		OnTarget:    map[string]int64{},
		RegionStats: map[string]regionSetStats{},
	}
	view.AllReads = br.ReadsCounted +
		br.Uncounted.Unmapped + br.Uncounted.Secondary + br.Uncounted.Supplementary +
		br.Uncounted.QCFail + br.Uncounted.LowMapQ + br.Uncounted.Duplicate

	if br.Genome {
		view.Genome = &genomeStats{AverageCoverage: br.GenomeAverage}
	}

	fileByTag := map[string]string{}
	for _, s := range sets {
		fileByTag[s.Tag] = s.File
	}

	for _, summary := range regionset.Summarize(results) {
		view.OnTarget[summary.SetTag] = summary.TotalOnTarget
		levels := make(map[string]float64, len(summary.BreadthByLevel))
		for t, frac := range summary.BreadthByLevel {
			levels[fmt.Sprintf("%d", t)] = frac
		}
		view.RegionStats[summary.SetTag] = regionSetStats{
			File:            fileByTag[summary.SetTag],
			NumRegions:      summary.RegionCount,
			Length:          summary.TotalLength,
			AverageCoverage: summary.AverageCoverage,
			CoverageLevels:  levels,
		}
	}
	return view
}

// WriteJSON writes view to path as JSON indented by four spaces. Map keys
// are sorted; struct fields appear in their declaration order, not sorted.
func WriteJSON(path string, view BamReportView) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "report: could not create JSON report:", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	if err := enc.Encode(view); err != nil {
		return errors.E(err, "report: could not write JSON report:", path)
	}
	return nil
}

// WriteText writes a human-readable summary of view to path.
func WriteText(path string, view BamReportView, jsonPath string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "report: could not create text report:", path)
	}
	defer f.Close()
	if err := writeText(f, view, path, jsonPath); err != nil {
		return errors.E(err, "report: could not write text report:", path)
	}
	return nil
}

func writeText(w io.Writer, view BamReportView, txtPath, jsonPath string) error {
	fmt.Fprintf(w, "coveragekit bam (v%s) -- text report\n", view.Version)
	fmt.Fprintf(w, "\nInput BAM file:\t%s\n", view.InputBam)
	fmt.Fprintf(w, "Text report file:\t%s\n", txtPath)
	if jsonPath != "" {
		fmt.Fprintf(w, "JSON report file:\t%s\n", jsonPath)
	}
	fmt.Fprintf(w, "\nTotal reads:\t%d\n", view.AllReads)
	fmt.Fprintf(w, "Number of reads counted:\t%d\n", view.ReadsCounted)
	fmt.Fprintf(w, "Number of reads not counted:\n")
	for _, key := range sortedKeys(view.ReadsNotCounted) {
		value := view.ReadsNotCounted[key]
		pct := 0.0
		if view.AllReads > 0 {
			pct = (float64(value) / float64(view.AllReads)) * 100
		}
		fmt.Fprintf(w, "\t%s:\t%3.2f%%\t(%d)\n", key, pct, value)
	}
	fmt.Fprintf(w, "Average insert size estimate:\t%v\n", view.InsertMean)
	fmt.Fprintf(w, "Insert size standard deviation estimate:\t%v\n", view.InsertSD)
	if view.Genome != nil {
		fmt.Fprintf(w, "Average genome-wide coverage:\t%v\n", view.Genome.AverageCoverage)
	}
	fmt.Fprintf(w, "On target percentages:\n")
	for _, key := range sortedKeys(view.OnTarget) {
		value := view.OnTarget[key]
		pct := 0.0
		if view.ReadsCounted > 0 {
			pct = (float64(value) / float64(view.ReadsCounted)) * 100
		}
		fmt.Fprintf(w, "\t%s:\t%3.2f%%\n", key, pct)
	}
	fmt.Fprintf(w, "Region stats:\n")
	for _, tag := range sortedRegionStatKeys(view.RegionStats) {
		stats := view.RegionStats[tag]
		fmt.Fprintf(w, "\t%s:\n", tag)
		fmt.Fprintf(w, "\t\tRegion file:\t%s\n", stats.File)
		fmt.Fprintf(w, "\t\tNumber of regions:\t%d\n", stats.NumRegions)
		fmt.Fprintf(w, "\t\tLength:\t%d\n", stats.Length)
		fmt.Fprintf(w, "\t\tAverage Coverage:\t%v\n", stats.AverageCoverage)
		fmt.Fprintf(w, "\t\tPercent at X coverage or greater:\n")
		for _, level := range sortedFloatKeys(stats.CoverageLevels) {
			fmt.Fprintf(w, "\t\t\t%sX:\t%3.2f\n", level, stats.CoverageLevels[level]*100)
		}
	}
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedRegionStatKeys(m map[string]regionSetStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedFloatKeys returns a coverage-levels map's keys (decimal threshold
// strings) in ascending numeric order; a plain string sort would put "10"
// before "5".
func sortedFloatKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})
	return keys
}
