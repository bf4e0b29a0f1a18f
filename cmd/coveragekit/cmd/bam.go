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

package cmd

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"

	"github.com/sheenams/coveragekit/bamio"
	"github.com/sheenams/coveragekit/coverage"
	"github.com/sheenams/coveragekit/region"
	"github.com/sheenams/coveragekit/regionset"
	"github.com/sheenams/coveragekit/report"
	"github.com/sheenams/coveragekit/store"
)

type bamFlags struct {
	bam        *string
	index      *string
	regions    repeatableFlag
	databases  repeatableFlag
	windowSize *int
	threads    *int
	levels     *string
	mq         *int
	genome     *bool
	allowDups  *bool
	jsonOut    *string
	txtOut     *string
}

func newCmdBam() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "bam",
		Short: "Compute coverage statistics for a BAM file over one or more BED region sets",
	}
	flags := bamFlags{
		bam:        cmd.Flags.String("bam", "", "Input BAM file"),
		index:      cmd.Flags.String("index", "", "BAM index path (default: bam path + .bai)"),
		windowSize: cmd.Flags.Int("windowSize", 1_000_000, "Processing window size, in bases"),
		threads:    cmd.Flags.Int("threads", runtime.NumCPU(), "Number of windows to process in parallel"),
		levels:     cmd.Flags.String("levels", "5,10,20,50,100", "Comma-separated list of coverage-depth thresholds"),
		mq:         cmd.Flags.Int("mq", 1, "Minimum mapping quality to count a read"),
		genome:     cmd.Flags.Bool("genome", false, "Also accumulate whole-genome average depth"),
		allowDups:  cmd.Flags.Bool("allowdups", false, "Count reads flagged as PCR/optical duplicates"),
		jsonOut:    cmd.Flags.String("json", "", "Write a JSON report to this path"),
		txtOut:     cmd.Flags.String("txt", "", "Write a text report to this path"),
	}
	cmd.Flags.Var(&flags.regions, "regions", "DESCR:PATH BED region set, repeatable")
	cmd.Flags.Var(&flags.databases, "databases", "DESCR:PATH SQLite database to populate, repeatable; DESCR must name a --regions set")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		return runBam(flags)
	})
	return cmd
}

type taggedPath struct {
	tag  string
	path string
}

func parseTaggedPaths(flags []string) ([]taggedPath, error) {
	out := make([]taggedPath, 0, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed DESCR:PATH argument: %q", f)
		}
		out = append(out, taggedPath{tag: parts[0], path: parts[1]})
	}
	return out, nil
}

func parseLevels(csv string) ([]uint32, error) {
	fields := strings.Split(csv, ",")
	levels := make([]uint32, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid --levels value %q: %w", f, err)
		}
		levels = append(levels, uint32(n))
	}
	return levels, nil
}

func runBam(flags bamFlags) error {
	if *flags.bam == "" {
		return fmt.Errorf("bam: --bam is required")
	}
	if *flags.jsonOut == "" && *flags.txtOut == "" {
		return fmt.Errorf("bam: at least one of --json or --txt is required")
	}

	regionSets, err := parseTaggedPaths(flags.regions)
	if err != nil {
		return err
	}
	databases, err := parseTaggedPaths(flags.databases)
	if err != nil {
		return err
	}
	regionTags := map[string]bool{}
	for _, rs := range regionSets {
		regionTags[rs.tag] = true
	}
	for _, db := range databases {
		if !regionTags[db.tag] {
			return fmt.Errorf("bam: --databases descriptor %q does not match any --regions descriptor", db.tag)
		}
	}

	thresholds, err := parseLevels(*flags.levels)
	if err != nil {
		return err
	}

	cfg := coverage.Config{
		Thresholds: thresholds,
		MinMapQ:    *flags.mq,
		AllowDups:  *flags.allowDups,
		Genome:     *flags.genome,
	}

	ctx := vcontext.Background()
	reader, err := bamio.Open(ctx, *flags.bam, *flags.index)
	if err != nil {
		return err
	}

	var allRegions []region.Region
	index := 0
	for _, rs := range regionSets {
		loaded, err := region.Load(ctx, rs.path, rs.tag, index)
		if err != nil {
			return err
		}
		allRegions = append(allRegions, loaded...)
		index += len(loaded)
	}

	windows := coverage.Plan(reader.Chroms(), allRegions, *flags.windowSize)
	windowReports, err := coverage.Run(windows, reader, cfg, *flags.threads)
	if err != nil {
		return err
	}

	bamReport, subRegionReports := coverage.Aggregate(windowReports, *flags.bam, cfg)

	acc := regionset.New(thresholds)
	acc.Add(subRegionReports)
	results := acc.Results()

	byTag := map[string][]regionset.RegionResult{}
	for _, r := range results {
		byTag[r.SetTag] = append(byTag[r.SetTag], r)
	}

	for _, db := range databases {
		var regionFile string
		for _, rs := range regionSets {
			if rs.tag == db.tag {
				regionFile = rs.path
			}
		}
		s, err := store.Overwrite(ctx, db.path, store.Metadata{
			RegionSource:   regionFile,
			CoverageSource: *flags.bam,
			Thresholds:     thresholds,
			MapQ:           *flags.mq,
			AllowDups:      *flags.allowDups,
			Genome:         *flags.genome,
		})
		if err != nil {
			return err
		}
		if err := s.InsertRegionSet(ctx, byTag[db.tag]); err != nil {
			s.Close()
			return err
		}
		if err := s.Close(); err != nil {
			return err
		}
	}

	var setInfos []report.RegionSetInfo
	for _, rs := range regionSets {
		setInfos = append(setInfos, report.RegionSetInfo{Tag: rs.tag, File: rs.path})
	}
	view := report.Build(bamReport, setInfos, results)

	if *flags.jsonOut != "" {
		if err := report.WriteJSON(*flags.jsonOut, view); err != nil {
			return err
		}
	}
	if *flags.txtOut != "" {
		if err := report.WriteText(*flags.txtOut, view, *flags.jsonOut); err != nil {
			return err
		}
	}
	return nil
}
