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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"

	"github.com/sheenams/coveragekit/store"
)

type dbFlags struct {
	db             *string
	geneList       *string
	geneListFile   *string
	levelsMin      *string
	levelsMax      *string
	coverageMin    *string
	coverageMax    *string
	reportRegions  *bool
	jsonOut        *bool
	tsvOut         *bool
}

func newCmdDb() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "db",
		Short: "Query a coveragekit SQLite database produced by the bam subcommand",
	}
	flags := dbFlags{
		db:            cmd.Flags.String("db", "", "Database file to query"),
		geneList:      cmd.Flags.String("geneList", "", "Comma-separated list of region names to include"),
		geneListFile:  cmd.Flags.String("geneListFile", "", "File of region names (one per line) to include"),
		levelsMin:     cmd.Flags.String("levelsMin", "", "Comma-separated T:PCT pairs; region must have >= PCT%% breadth at T; \".\" skips a threshold"),
		levelsMax:     cmd.Flags.String("levelsMax", "", "Comma-separated T:PCT pairs; region must have < PCT%% breadth at T; \".\" skips a threshold"),
		coverageMin:   cmd.Flags.String("coverageMin", "", "Minimum average coverage"),
		coverageMax:   cmd.Flags.String("coverageMax", "", "Maximum average coverage"),
		reportRegions: cmd.Flags.Bool("reportRegions", false, "Include each region's stitched sub-region list in output"),
		jsonOut:       cmd.Flags.Bool("json", false, "Print results as JSON"),
		tsvOut:        cmd.Flags.Bool("tsv", false, "Print results as tab-separated values"),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		return runDb(flags)
	})
	return cmd
}

func runDb(flags dbFlags) error {
	if *flags.db == "" {
		return fmt.Errorf("db: --db is required")
	}
	if *flags.geneList != "" && *flags.geneListFile != "" {
		return fmt.Errorf("db: --geneList and --geneListFile are mutually exclusive")
	}
	if !*flags.jsonOut && !*flags.tsvOut {
		return fmt.Errorf("db: at least one of --json or --tsv is required")
	}

	filter := store.QueryFilter{}
	if *flags.geneList != "" {
		filter.Names = strings.Split(*flags.geneList, ",")
	} else if *flags.geneListFile != "" {
		names, err := readLines(*flags.geneListFile)
		if err != nil {
			return err
		}
		filter.Names = names
	}

	var err error
	filter.CoverageMin, err = parseOptionalFloat(*flags.coverageMin)
	if err != nil {
		return fmt.Errorf("db: invalid --coverageMin: %w", err)
	}
	filter.CoverageMax, err = parseOptionalFloat(*flags.coverageMax)
	if err != nil {
		return fmt.Errorf("db: invalid --coverageMax: %w", err)
	}
	filter.LevelsMin, err = parseLevelFilter(*flags.levelsMin)
	if err != nil {
		return fmt.Errorf("db: invalid --levelsMin: %w", err)
	}
	filter.LevelsMax, err = parseLevelFilter(*flags.levelsMax)
	if err != nil {
		return fmt.Errorf("db: invalid --levelsMax: %w", err)
	}

	ctx := vcontext.Background()
	s, err := store.Open(ctx, *flags.db)
	if err != nil {
		return err
	}
	defer s.Close()

	rows, err := s.Query(ctx, filter)
	if err != nil {
		return err
	}

	if *flags.jsonOut {
		if err := printJSON(rows, *flags.reportRegions); err != nil {
			return err
		}
	}
	if *flags.tsvOut {
		printTSV(rows, s.Thresholds(), *flags.reportRegions)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()
	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			names = append(names, line)
		}
	}
	return names, scanner.Err()
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parseLevelFilter parses a comma-separated "T:PCT" list, e.g.
// "20:95,50:80"; a threshold whose PCT is "." is omitted from the
// resulting filter, matching the original covdb.py CLI's skip convention.
func parseLevelFilter(csv string) (store.LevelFilter, error) {
	if csv == "" {
		return nil, nil
	}
	filter := store.LevelFilter{}
	for _, pair := range strings.Split(csv, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed T:PCT pair %q", pair)
		}
		if parts[1] == "." {
			continue
		}
		t, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("malformed threshold in %q: %w", pair, err)
		}
		pct, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed percentage in %q: %w", pair, err)
		}
		filter[uint32(t)] = pct
	}
	return filter, nil
}

type rowView struct {
	Name            string             `json:"name"`
	SetTag          string             `json:"setTag"`
	Chrom           string             `json:"chrom"`
	Start           int                `json:"start"`
	Stop            int                `json:"stop"`
	SubRegions      string             `json:"subregions,omitempty"`
	Length          int                `json:"length"`
	OnTarget        int64              `json:"onTarget"`
	AverageCoverage float64            `json:"avgCoverage"`
	BreadthByLevel  map[string]float64 `json:"coverageLevels"`
}

func toRowViews(rows []store.Row, reportRegions bool) []rowView {
	out := make([]rowView, len(rows))
	for i, r := range rows {
		levels := make(map[string]float64, len(r.BreadthByLevel))
		for t, frac := range r.BreadthByLevel {
			levels[strconv.FormatUint(uint64(t), 10)] = frac
		}
		out[i] = rowView{
			Name:            r.Name,
			SetTag:          r.SetTag,
			Chrom:           r.Chrom,
			Start:           r.Start,
			Stop:            r.Stop,
			Length:          r.Length,
			OnTarget:        r.OnTarget,
			AverageCoverage: r.AverageCoverage,
			BreadthByLevel:  levels,
		}
		if reportRegions {
			out[i].SubRegions = r.SubRegions
		}
	}
	return out
}

func printJSON(rows []store.Row, reportRegions bool) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(toRowViews(rows, reportRegions))
}

func printTSV(rows []store.Row, thresholds []uint32, reportRegions bool) {
	sorted := append([]uint32(nil), thresholds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	header := []string{"name", "setTag", "chrom", "start", "stop", "length", "onTarget", "avgCoverage"}
	if reportRegions {
		header = append(header, "subregions")
	}
	for _, t := range sorted {
		header = append(header, fmt.Sprintf("percent%dX", t))
	}
	fmt.Println(strings.Join(header, "\t"))

	for _, r := range rows {
		fields := []string{
			r.Name, r.SetTag, r.Chrom,
			strconv.Itoa(r.Start), strconv.Itoa(r.Stop), strconv.Itoa(r.Length),
			strconv.FormatInt(r.OnTarget, 10),
			strconv.FormatFloat(r.AverageCoverage, 'f', 2, 64),
		}
		if reportRegions {
			fields = append(fields, r.SubRegions)
		}
		for _, t := range sorted {
			fields = append(fields, strconv.FormatFloat(r.BreadthByLevel[t]*100, 'f', 2, 64))
		}
		fmt.Println(strings.Join(fields, "\t"))
	}
}
