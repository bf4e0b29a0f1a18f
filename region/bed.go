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

package region

import (
	"bufio"
	"context"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
)

// getTokens splits a BED line on tab/whitespace runs, writing up to
// len(tokens) fields into tokens and returning how many were found.
func getTokens(tokens [][]byte, line []byte) int {
	posEnd := 0
	lineLen := len(line)
	for i := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if line[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return i
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if line[posEnd] <= ' ' {
				break
			}
		}
		tokens[i] = line[pos:posEnd]
	}
	return len(tokens)
}

// Load reads a BED file (optionally gzip-compressed, auto-detected by
// extension as in pileup.LoadFa) and returns its regions tagged with setTag,
// in file order. A leading "chr" is stripped from the chromosome column. A
// missing name column (fewer than 4 fields) is replaced with the 0-based
// line ordinal among parsed lines, rendered as a decimal string.
func Load(ctx context.Context, path, setTag string, startIndex int) ([]Region, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "region: could not open BED file:", path)
	}
	defer f.Close(ctx)

	var reader io.Reader = f.Reader(ctx)
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, errors.E(err, "region: could not decompress BED file:", path)
		}
		defer gz.Close()
		reader = gz
	}

	var regions []Region
	scanner := bufio.NewScanner(reader)
	var tokens [4][]byte
	lineOrdinal := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		n := getTokens(tokens[:], line)
		if n < 3 {
			return nil, errors.E("region: malformed BED line (need at least 3 columns):", path, ":", string(line))
		}
		start, err := strconv.Atoi(string(tokens[1]))
		if err != nil {
			return nil, errors.E(err, "region: invalid BED start column:", path, ":", string(line))
		}
		stop, err := strconv.Atoi(string(tokens[2]))
		if err != nil {
			return nil, errors.E(err, "region: invalid BED stop column:", path, ":", string(line))
		}
		if stop <= start {
			return nil, errors.E("region: BED stop must be greater than start:", path, ":", string(line))
		}
		name := strconv.Itoa(lineOrdinal)
		if n >= 4 {
			name = string(tokens[3])
		}
		regions = append(regions, Region{
			Chrom:  NormalizeChrom(string(tokens[0])),
			Start:  start,
			Stop:   stop,
			Name:   name,
			SetTag: setTag,
			Index:  startIndex + lineOrdinal,
		})
		lineOrdinal++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "region: error reading BED file:", path)
	}
	return regions, nil
}
