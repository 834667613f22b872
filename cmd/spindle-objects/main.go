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

// spindle-objects lists or fetches objects from an
// object store directory:
//
//	spindle-objects ls <root>
//	spindle-objects cat <root> <hash>
//	spindle-objects check <root>
//
// check re-hashes every object and reports entries
// whose contents do not match their address.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/SnellerInc/spindle/objstore"
)

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "spindle-objects: "+f+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Parse()
	if flag.NArg() < 2 {
		exitf("usage: spindle-objects <ls|cat|check> <root> [hash]")
	}
	store, err := objstore.Open(flag.Arg(1))
	if err != nil {
		exitf("%v", err)
	}
	switch flag.Arg(0) {
	case "ls":
		err = store.Iter(func(h objstore.Hash) bool {
			fmt.Println(h)
			return true
		})
		if err != nil {
			exitf("%v", err)
		}
	case "cat":
		if flag.NArg() != 3 {
			exitf("cat needs a hash")
		}
		h, err := objstore.ParseHash(flag.Arg(2))
		if err != nil {
			exitf("%v", err)
		}
		buf, err := store.Get(h)
		if err != nil {
			exitf("%v", err)
		}
		os.Stdout.Write(buf)
	case "check":
		bad := 0
		err = store.Iter(func(h objstore.Hash) bool {
			buf, err := store.Get(h)
			if err != nil || objstore.HashOf(buf) != h {
				fmt.Printf("BAD  %s\n", h)
				bad++
			}
			return true
		})
		if err != nil {
			exitf("%v", err)
		}
		if bad > 0 {
			exitf("%d corrupt objects", bad)
		}
		fmt.Println("ok")
	default:
		exitf("unknown command %q", flag.Arg(0))
	}
}
