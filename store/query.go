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

package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// LevelFilter pairs a threshold with a min or max breadth-percentage
// cutoff; "." in the original CLI meant "skip this threshold" and is
// represented here by simply omitting the entry from the map.
type LevelFilter map[uint32]float64

// QueryFilter mirrors the original covdb.py CLI filter set: an optional
// gene/region name allowlist, coverage bounds, and per-threshold breadth
// bounds.
type QueryFilter struct {
	Names          []string
	CoverageMin    *float64
	CoverageMax    *float64
	LevelsMin      LevelFilter
	LevelsMax      LevelFilter
}

// Row is one matching region, as stored.
type Row struct {
	Name            string
	SetTag          string
	Chrom           string
	Start, Stop     int
	SubRegions      string
	Length          int
	OnTarget        int64
	AverageCoverage float64
	BreadthByLevel  map[uint32]float64
}

// Query runs filter against the regions table and returns matching rows,
// ordered by (set_tag, id) for determinism. Grounded on the original
// covdb.py CoverageDB.query(): a dynamically built WHERE clause combining
// gene-name membership, coverage bounds, and per-level bounds.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Row, error) {
	var clauses []string
	var args []interface{}

	if len(filter.Names) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Names)), ", ")
		clauses = append(clauses, fmt.Sprintf("id IN (%s)", placeholders))
		for _, n := range filter.Names {
			args = append(args, n)
		}
	}
	if filter.CoverageMin != nil {
		clauses = append(clauses, "coverage >= ?")
		args = append(args, *filter.CoverageMin)
	}
	if filter.CoverageMax != nil {
		clauses = append(clauses, "coverage < ?")
		args = append(args, *filter.CoverageMax)
	}
	for t, pct := range filter.LevelsMin {
		clauses = append(clauses, fmt.Sprintf("%s >= ?", strconv.Quote(percentColumn(t))))
		args = append(args, pct/100.0)
	}
	for t, pct := range filter.LevelsMax {
		clauses = append(clauses, fmt.Sprintf("%s < ?", strconv.Quote(percentColumn(t))))
		args = append(args, pct/100.0)
	}

	query := "SELECT id, set_tag, chrom, start, stop, subregions, length, on_target, coverage"
	for _, t := range s.thresholds {
		query += ", " + strconv.Quote(percentColumn(t))
	}
	query += " FROM regions"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY set_tag, id"

	log.Debug.Printf("store: query: %s %v", query, args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.E(err, "store: query failed:", query)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var r Row
		r.BreadthByLevel = make(map[uint32]float64, len(s.thresholds))
		dest := []interface{}{&r.Name, &r.SetTag, &r.Chrom, &r.Start, &r.Stop, &r.SubRegions, &r.Length, &r.OnTarget, &r.AverageCoverage}
		levelVals := make([]float64, len(s.thresholds))
		for i := range s.thresholds {
			dest = append(dest, &levelVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.E(err, "store: failed to scan row")
		}
		for i, t := range s.thresholds {
			r.BreadthByLevel[t] = levelVals[i]
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(err, "store: error iterating rows")
	}
	return results, nil
}
