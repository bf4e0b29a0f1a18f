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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheenams/coveragekit/region"
)

func TestPlanTilesChromosomeAndTruncatesLastWindow(t *testing.T) {
	chroms := []Chrom{{Name: "1", Length: 250}}
	windows := Plan(chroms, nil, 100)
	require.Len(t, windows, 3)
	require.Equal(t, ProcessingWindow{Chrom: "1", Start: 0, Stop: 100, Index: 0}, windows[0].Window)
	require.Equal(t, ProcessingWindow{Chrom: "1", Start: 100, Stop: 200, Index: 1}, windows[1].Window)
	require.Equal(t, ProcessingWindow{Chrom: "1", Start: 200, Stop: 250, Index: 2}, windows[2].Window)
}

func TestPlanClipsRegionToWindow(t *testing.T) {
	chroms := []Chrom{{Name: "1", Length: 300}}
	regions := []region.Region{{Chrom: "1", Start: 90, Stop: 210, Name: "gene1"}}
	windows := Plan(chroms, regions, 100)

	require.Len(t, windows[0].SubRegions, 1)
	require.Equal(t, 90, windows[0].SubRegions[0].Start)
	require.Equal(t, 100, windows[0].SubRegions[0].Stop)

	require.Len(t, windows[1].SubRegions, 1)
	require.Equal(t, 100, windows[1].SubRegions[0].Start)
	require.Equal(t, 200, windows[1].SubRegions[0].Stop)

	require.Len(t, windows[2].SubRegions, 1)
	require.Equal(t, 200, windows[2].SubRegions[0].Start)
	require.Equal(t, 210, windows[2].SubRegions[0].Stop)
}

func TestPlanDiscardsRegionBeforeWindowKeepsRegionAfter(t *testing.T) {
	chroms := []Chrom{{Name: "1", Length: 300}}
	regions := []region.Region{
		{Chrom: "1", Start: 0, Stop: 10, Name: "early"},
		{Chrom: "1", Start: 250, Stop: 260, Name: "late"},
	}
	windows := Plan(chroms, regions, 100)
	require.Empty(t, windows[1].SubRegions)
	require.Len(t, windows[2].SubRegions, 1)
	require.Equal(t, "late", windows[2].SubRegions[0].Name)
}

func TestPlanSymmetricChrStripping(t *testing.T) {
	chroms := []Chrom{{Name: "chr1", Length: 100}}
	regions := []region.Region{{Chrom: "1", Start: 0, Stop: 50, Name: "r"}}
	windows := Plan(chroms, regions, 100)
	require.Len(t, windows[0].SubRegions, 1)
}

func TestPlanSubRegionKeysAreSequentialWithinWindow(t *testing.T) {
	chroms := []Chrom{{Name: "1", Length: 100}}
	regions := []region.Region{
		{Chrom: "1", Start: 10, Stop: 20, Name: "a", Index: 0},
		{Chrom: "1", Start: 30, Stop: 40, Name: "b", Index: 1},
	}
	windows := Plan(chroms, regions, 100)
	require.Equal(t, 0, windows[0].SubRegions[0].Key)
	require.Equal(t, 1, windows[0].SubRegions[1].Key)
}
