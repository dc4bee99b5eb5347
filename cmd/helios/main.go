// helios loads particle trajectories and evaluates modifier pipelines on them.
//
// Usage:
//
//	helios frames <file|url>
//	helios eval <file|url> [--frame N] [--clear-selection particles] [--compute name=expr] [--scale s]
//	helios version
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
