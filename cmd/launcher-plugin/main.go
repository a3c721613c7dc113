//go:build linux

// Command launcher-plugin is the CLI entrypoint (C18). The real work is
// in internal/launchercli; this mirrors the teacher's own cmd/rnx main,
// a thin wrapper around the package's Execute().
package main

import (
	"fmt"
	"os"

	"github.com/jsturma/launcher-plugin/internal/launchercli"
)

func main() {
	if err := launchercli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
