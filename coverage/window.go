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

import "github.com/sheenams/coveragekit/region"

// Chrom is one reference sequence from a BAM header: just enough for
// WindowPlanner to tile it, independent of any BAM library type.
type Chrom struct {
	Name   string
	Length int
}

// ProcessingWindow is one fixed-size (except possibly the last per
// chromosome) slice of a reference sequence, processed independently by a
// WindowWorker. Index is the window's ordinal in genome order (BAM header
// order, then Start ascending) and is what Aggregator uses to fold
// WindowReports back into genome order regardless of completion order.
type ProcessingWindow struct {
	Chrom string
	Start int
	Stop  int
	Index int
}

// Len returns Stop - Start.
func (w ProcessingWindow) Len() int { return w.Stop - w.Start }

// SubRegionSlice is a user region clipped to a single ProcessingWindow. Key
// is the slice's index within its window's sub-region list and doubles as
// its ActiveRegionDispatcher binding key.
type SubRegionSlice struct {
	region.Region
	Key int
}
