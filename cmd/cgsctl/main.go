package main

import (
	"os"

	"github.com/cgs-mvp/cgs/go/engine/cmd/cgsctl/cmd"
)

var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
