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
	"github.com/grailbio/base/traverse"
)

// AlignmentReader supplies the alignments overlapping one ProcessingWindow,
// in coordinate order. bamio.Reader implements this against a real BAM
// file; tests supply it directly from literal []Alignment slices.
type AlignmentReader interface {
	ReadWindow(w ProcessingWindow) ([]Alignment, error)
}

// Run processes every planned window, fanning out across parallelism jobs
// the way pileupSNPMain splits shards across traverse.Each workers
// (pileup/snp/pileup.go): each job owns a contiguous slice of windows, so
// results can be written back into a pre-sized slice without locking.
func Run(windows []PlannedWindow, reader AlignmentReader, cfg Config, parallelism int) ([]WindowReport, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	n := len(windows)
	reports := make([]WindowReport, n)
	if n == 0 {
		return reports, nil
	}
	if parallelism > n {
		parallelism = n
	}

	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * n) / parallelism
		endIdx := ((jobIdx + 1) * n) / parallelism
		for i := startIdx; i < endIdx; i++ {
			pw := windows[i]
			alignments, err := reader.ReadWindow(pw.Window)
			if err != nil {
				return err
			}
			reports[i] = Process(pw.Window, pw.SubRegions, alignments, cfg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}
