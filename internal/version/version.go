// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version prints the build version.
package version

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Print prints the build version and VCS revision if available.
func Print() error {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("no build info")
	}
	var revision, modified string
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			revision = bs.Value
		case "vcs.modified":
			modified = bs.Value
		}
	}
	switch {
	case revision == "":
		fmt.Println(bi.Main.Version)
	case modified == "true":
		fmt.Println(bi.Main.Version, revision, "(modified)")
	default:
		fmt.Println(bi.Main.Version, revision)
	}
	return nil
}
