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

// Package store persists and queries coverage results in a SQLite-backed
// database, via modernc.org/sqlite (a pure-Go driver, so the CLI binary
// stays cgo-free like the rest of the module).
//
// Schema grounded on coveragekit's original CoverageDB
// (original_source/coveragekit/utils/db.py): a `regions` table with one
// row per user region plus one `percent{T}X` column per requested
// threshold, a `metadata` table recording the run's inputs, and a
// `coveragekit` table recording the schema version and creation time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

const coveragekitTable = `CREATE TABLE coveragekit (version TEXT, date_created TEXT)`

const metadataTable = `CREATE TABLE metadata (
	region_source TEXT,
	coverage_source TEXT,
	levels TEXT,
	mapq_cutoff INTEGER,
	duplicates_allowed INTEGER,
	genome_wide INTEGER
)`

const regionsTableBase = `CREATE TABLE regions (
	id TEXT,
	set_tag TEXT,
	chrom TEXT,
	start INTEGER,
	stop INTEGER,
	subregions TEXT,
	length INTEGER,
	on_target INTEGER,
	coverage REAL`

const regionsTableTail = `)`

const uniqueIndex = `CREATE UNIQUE INDEX ididx ON regions(set_tag, id)`
const coverageIndex = `CREATE INDEX coverageidx ON regions(coverage)`

// percentColumn returns the column name for a threshold's breadth
// percentage, matching the original schema's "percent{T}X" naming.
func percentColumn(threshold uint32) string {
	return fmt.Sprintf("percent%dX", threshold)
}

// createSchema executes every DDL statement needed to initialize a fresh
// database for the given thresholds.
func createSchema(ctx context.Context, exec execContext, thresholds []uint32) error {
	statements := []string{coveragekitTable, metadataTable}

	var cols strings.Builder
	cols.WriteString(regionsTableBase)
	for _, t := range thresholds {
		cols.WriteString(", ")
		cols.WriteString(strconv.Quote(percentColumn(t)))
		cols.WriteString(" REAL")
	}
	cols.WriteString(regionsTableTail)
	statements = append(statements, cols.String(), uniqueIndex, coverageIndex)

	for _, stmt := range statements {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return errors.E(err, "store: failed to execute schema statement:", stmt)
		}
	}
	return nil
}

// execContext is the subset of *sql.DB/*sql.Tx createSchema needs, kept
// narrow so it can be exercised directly in tests against an in-memory
// database without importing the whole Store.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
