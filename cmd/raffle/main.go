package main

import (
	"os"

	"github.com/pendergraft/raffled/internal/cli"
)

// Set via ldflags
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
