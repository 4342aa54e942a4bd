package main

import (
	"os"

	"github.com/fscherf/lona/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
