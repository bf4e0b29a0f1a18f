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

// Package cmd implements the coveragekit CLI's two subcommands, "bam" and
// "db", following bio-pamtool's cmdline.Command-per-subcommand layout
// (cmd/bio-pamtool/cmd/main.go).
package cmd

import (
	"log"

	"v.io/x/lib/cmdline"
)

// Run parses os.Args and dispatches to the bam/db subcommand.
func Run() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:  "coveragekit",
			Short: "Compute and query BAM coverage statistics over BED region sets",
			Children: []*cmdline.Command{
				newCmdBam(),
				newCmdDb(),
			},
		})
}

// repeatableFlag accumulates every occurrence of a flag.Value-based flag
// that may be passed more than once (--regions a:x.bed --regions b:y.bed),
// since the standard flag package otherwise only keeps the last value.
type repeatableFlag []string

func (f *repeatableFlag) String() string {
	if f == nil {
		return ""
	}
	out := ""
	for i, v := range *f {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

func (f *repeatableFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}
