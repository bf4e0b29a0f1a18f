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
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	_ "modernc.org/sqlite"

	"github.com/sheenams/coveragekit/coverage"
	"github.com/sheenams/coveragekit/region"
	"github.com/sheenams/coveragekit/regionset"
)

// Metadata is the run-level information recorded once per database,
// mirroring the original "metadata" table's columns.
type Metadata struct {
	RegionSource   string
	CoverageSource string
	Thresholds     []uint32
	MapQ           int
	AllowDups      bool
	Genome         bool
}

// Store wraps a single SQLite database file holding one coverage run's
// results.
type Store struct {
	db         *sql.DB
	thresholds []uint32
}

// Create initializes a brand-new database at path and records meta. It
// fails if path already exists; use Overwrite to replace one.
func Create(ctx context.Context, path string, meta Metadata) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, errors.E("store: refusing to overwrite existing database:", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.E(err, "store: could not open database:", path)
	}
	s := &Store{db: db, thresholds: meta.Thresholds}
	if err := s.init(ctx, meta); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Overwrite deletes any existing database at path and creates a fresh one,
// matching coveragekit's original CoverageDB.reset() behavior.
func Overwrite(ctx context.Context, path string, meta Metadata) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		log.Printf("store: overwriting existing database %s", path)
		if err := os.Remove(path); err != nil {
			return nil, errors.E(err, "store: could not remove existing database:", path)
		}
	}
	return Create(ctx, path, meta)
}

// Open opens an existing database at path without altering its schema,
// reading back the thresholds it was created with from the metadata table.
func Open(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.E(err, "store: database does not exist:", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.E(err, "store: could not open database:", path)
	}
	s := &Store{db: db}
	row := db.QueryRowContext(ctx, `SELECT levels FROM metadata LIMIT 1`)
	var levelsCSV string
	if err := row.Scan(&levelsCSV); err != nil {
		db.Close()
		return nil, errors.E(err, "store: could not read metadata from:", path)
	}
	for _, f := range strings.Split(levelsCSV, ",") {
		n, err := strconv.Atoi(f)
		if err != nil {
			db.Close()
			return nil, errors.E(err, "store: malformed levels metadata in:", path)
		}
		s.thresholds = append(s.thresholds, uint32(n))
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Thresholds returns the coverage thresholds this database was created
// with.
func (s *Store) Thresholds() []uint32 { return s.thresholds }

func (s *Store) init(ctx context.Context, meta Metadata) error {
	if err := createSchema(ctx, s.db, meta.Thresholds); err != nil {
		return err
	}
	levelsCSV := joinUint32(meta.Thresholds)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata VALUES (?, ?, ?, ?, ?, ?)`,
		meta.RegionSource, meta.CoverageSource, levelsCSV, meta.MapQ, boolToInt(meta.AllowDups), boolToInt(meta.Genome))
	if err != nil {
		return errors.E(err, "store: could not insert metadata")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO coveragekit VALUES (?, ?)`, coverage.Version, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.E(err, "store: could not insert coveragekit version row")
	}
	return nil
}

// InsertRegionSet writes one row per region in results, replacing
// coveragekit's original insertRegionSet/RegionSet.retrieve(). Rows are
// inserted inside a single transaction, matching the original's one
// conn.commit() per region set.
func (s *Store) InsertRegionSet(ctx context.Context, results []regionset.RegionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.E(err, "store: could not begin transaction")
	}
	defer tx.Rollback()

	cols := []string{"id", "set_tag", "chrom", "start", "stop", "subregions", "length", "on_target", "coverage"}
	for _, t := range s.thresholds {
		cols = append(cols, percentColumn(t))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt := fmt.Sprintf(`INSERT INTO regions (%s) VALUES (%s)`, strings.Join(quoteAll(cols), ", "), placeholders)

	for _, r := range results {
		args := []interface{}{r.Name, r.SetTag, r.Chrom, r.Start, r.Stop, subRegionsText(r.SubRegions), r.Length(), r.OnTarget, r.AverageCoverage()}
		for _, t := range s.thresholds {
			args = append(args, r.BreadthByLevel[t])
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return errors.E(err, "store: could not insert region:", r.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.E(err, "store: could not commit region set")
	}
	return nil
}

// subRegionsText renders a region's stitched sub-intervals as a compact,
// human-readable string for the "subregions" column (e.g. "100-200,350-420"),
// matching the original schema's free-text subregions field.
func subRegionsText(intervals []region.Interval) string {
	parts := make([]string, len(intervals))
	for i, iv := range intervals {
		parts[i] = fmt.Sprintf("%d-%d", iv.Start, iv.Stop)
	}
	return strings.Join(parts, ",")
}

func joinUint32(vs []uint32) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strconv.Quote(c)
	}
	return out
}
