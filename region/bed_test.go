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
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/stretchr/testify/require"
)

func writeBed(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.bed")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadParsesNamedAndUnnamedLines(t *testing.T) {
	path := writeBed(t, "chr1\t100\t200\tg1\n1\t300\t400\n")
	regions, err := Load(vcontext.Background(), path, "default", 0)
	require.NoError(t, err)
	require.Len(t, regions, 2)

	require.Equal(t, Region{Chrom: "1", Start: 100, Stop: 200, Name: "g1", SetTag: "default", Index: 0}, regions[0])
	require.Equal(t, Region{Chrom: "1", Start: 300, Stop: 400, Name: "1", SetTag: "default", Index: 1}, regions[1])
}

func TestLoadSkipsBlankLines(t *testing.T) {
	path := writeBed(t, "1\t0\t10\ta\n\n1\t20\t30\tb\n")
	regions, err := Load(vcontext.Background(), path, "default", 0)
	require.NoError(t, err)
	require.Len(t, regions, 2)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeBed(t, "1\t0\n")
	_, err := Load(vcontext.Background(), path, "default", 0)
	require.Error(t, err)
}

func TestLoadRejectsStopNotGreaterThanStart(t *testing.T) {
	path := writeBed(t, "1\t100\t100\tg1\n")
	_, err := Load(vcontext.Background(), path, "default", 0)
	require.Error(t, err)
}

func TestLoadStartIndexOffsetsOrdinals(t *testing.T) {
	path := writeBed(t, "1\t0\t10\n1\t20\t30\n")
	regions, err := Load(vcontext.Background(), path, "default", 5)
	require.NoError(t, err)
	require.Equal(t, 5, regions[0].Index)
	require.Equal(t, 6, regions[1].Index)
}
