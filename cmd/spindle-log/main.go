// Copyright (C) 2023 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// spindle-log inspects a commitlog directory:
//
//	spindle-log [-v] [-from N] <dir>
//
// It walks every segment in offset order, validating
// record framing and checksums, and prints a summary
// (or, with -v, one line per record).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/SnellerInc/spindle/commitlog"
)

var (
	dashv    bool
	dashfrom uint64
)

func init() {
	flag.BoolVar(&dashv, "v", false, "print each record")
	flag.Uint64Var(&dashfrom, "from", 0, "first offset to print")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "spindle-log: "+f+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		exitf("usage: spindle-log [-v] [-from N] <dir>")
	}
	dir := flag.Arg(0)
	var (
		records uint64
		bytes   uint64
		first   = ^uint64(0)
		last    uint64
	)
	err := commitlog.Scan(dir, func(offset uint64, payload []byte) error {
		records++
		bytes += uint64(len(payload))
		if offset < first {
			first = offset
		}
		last = offset
		if dashv && offset >= dashfrom {
			fmt.Printf("%20d %8d bytes\n", offset, len(payload))
		}
		return nil
	})
	if err != nil {
		exitf("%v", err)
	}
	if records == 0 {
		fmt.Println("empty log")
		return
	}
	fmt.Printf("offsets %d..%d, %d records, %d payload bytes\n", first, last, records, bytes)
}
