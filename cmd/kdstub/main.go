package main

import (
	"os"

	"github.com/go-delve/kdstub/cmd/kdstub/cmds"
	"github.com/go-delve/kdstub/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.KdstubVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
