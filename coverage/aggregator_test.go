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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheenams/coveragekit/region"
)

// TestAggregateWindowSeam is scenario S4: a read spanning 1:90-210 is
// visible in both window [0,100) (as a last-column read) and window
// [100,200) (as a first-column read). Seam correction must decrement the
// double-counted read so the final readsCounted is 1, not 2.
func TestAggregateWindowSeam(t *testing.T) {
	w0 := WindowReport{
		Window:           ProcessingWindow{Chrom: "1", Start: 0, Stop: 100, Index: 0},
		ReadsCounted:     1,
		FirstColumnReads: map[string]bool{},
		LastColumnReads:  map[string]bool{"spanner.1": true},
	}
	w1 := WindowReport{
		Window:           ProcessingWindow{Chrom: "1", Start: 100, Stop: 200, Index: 1},
		ReadsCounted:     1,
		FirstColumnReads: map[string]bool{"spanner.1": true},
		LastColumnReads:  map[string]bool{},
	}
	br, _ := Aggregate([]WindowReport{w1, w0}, "test.bam", Config{})
	require.Equal(t, int64(1), br.ReadsCounted)
}

func TestAggregateNoSeamWhenWindowsNotAdjacent(t *testing.T) {
	w0 := WindowReport{
		Window:          ProcessingWindow{Chrom: "1", Start: 0, Stop: 100, Index: 0},
		ReadsCounted:    1,
		LastColumnReads: map[string]bool{"r.1": true},
	}
	w2 := WindowReport{
		Window:           ProcessingWindow{Chrom: "2", Start: 0, Stop: 100, Index: 1},
		ReadsCounted:     1,
		FirstColumnReads: map[string]bool{"r.1": true},
	}
	br, _ := Aggregate([]WindowReport{w0, w2}, "test.bam", Config{})
	require.Equal(t, int64(2), br.ReadsCounted) // different chroms: no seam correction
}

func TestAggregateInsertStatsNaNWithoutSamples(t *testing.T) {
	br, _ := Aggregate([]WindowReport{{Window: ProcessingWindow{Chrom: "1", Start: 0, Stop: 100}}}, "test.bam", Config{})
	require.True(t, math.IsNaN(br.InsertMean))
	require.True(t, math.IsNaN(br.InsertStdDev))
}

func TestAggregateInsertStatsNaNStdDevWithOneSample(t *testing.T) {
	w := WindowReport{Window: ProcessingWindow{Chrom: "1", Start: 0, Stop: 100}, InsertSizes: []int{150}}
	br, _ := Aggregate([]WindowReport{w}, "test.bam", Config{})
	require.Equal(t, 150.0, br.InsertMean)
	require.True(t, math.IsNaN(br.InsertStdDev))
}

func TestAggregateInsertMeanAndBesselStdDev(t *testing.T) {
	w := WindowReport{Window: ProcessingWindow{Chrom: "1", Start: 0, Stop: 100}, InsertSizes: []int{100, 200}}
	br, _ := Aggregate([]WindowReport{w}, "test.bam", Config{})
	require.Equal(t, 150.0, br.InsertMean)
	// sample variance = ((100-150)^2 + (200-150)^2) / (2-1) = 5000
	require.InDelta(t, math.Sqrt(5000), br.InsertStdDev, 1e-9)
}

func TestAggregateGenomeAverage(t *testing.T) {
	cfg := Config{Genome: true}
	w0 := WindowReport{Window: ProcessingWindow{Chrom: "1", Start: 0, Stop: 100}, GenomeCoverageSum: 100}
	w1 := WindowReport{Window: ProcessingWindow{Chrom: "1", Start: 100, Stop: 200}, GenomeCoverageSum: 300}
	br, _ := Aggregate([]WindowReport{w0, w1}, "test.bam", cfg)
	require.True(t, br.Genome)
	require.InDelta(t, 2.0, br.GenomeAverage, 1e-9) // (100+300)/200
}

func TestAggregateStraddlingSubRegionOnTargetCorrection(t *testing.T) {
	region1 := region.Region{Chrom: "1", Start: 50, Stop: 150, Name: "g1", SetTag: "default"}
	w0 := WindowReport{
		Window:          ProcessingWindow{Chrom: "1", Start: 0, Stop: 100, Index: 0},
		LastColumnReads: map[string]bool{"r.1": true},
		SubRegions: []SubRegionReport{
			{Region: region1, OnTarget: 3},
		},
	}
	w1 := WindowReport{
		Window:           ProcessingWindow{Chrom: "1", Start: 100, Stop: 200, Index: 1},
		FirstColumnReads: map[string]bool{"r.1": true},
		SubRegions: []SubRegionReport{
			{Region: region1, OnTarget: 4},
		},
	}
	_, subRegions := Aggregate([]WindowReport{w0, w1}, "test.bam", Config{})
	require.Equal(t, int64(3), subRegions[0].OnTarget) // first window's slice untouched
	require.Equal(t, int64(3), subRegions[1].OnTarget) // second window's slice decremented by 1
}

func TestAggregateSortsWindowsByIndexBeforeFolding(t *testing.T) {
	w1 := WindowReport{
		Window:           ProcessingWindow{Chrom: "1", Start: 100, Stop: 200, Index: 1},
		ReadsCounted:     1,
		FirstColumnReads: map[string]bool{"r.1": true},
	}
	w0 := WindowReport{
		Window:          ProcessingWindow{Chrom: "1", Start: 0, Stop: 100, Index: 0},
		ReadsCounted:    1,
		LastColumnReads: map[string]bool{"r.1": true},
	}
	// Passed out of genome order; Aggregate must sort by Index before seam
	// correction can find the adjacent pair.
	br, _ := Aggregate([]WindowReport{w1, w0}, "test.bam", Config{})
	require.Equal(t, int64(1), br.ReadsCounted)
}
