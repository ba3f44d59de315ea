// stubby CLI - runs stub servers and sends requests to them
package main

import (
	"os"

	"github.com/getmockd/stubby/pkg/cli"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cli.Version, cli.Commit, cli.BuildDate = Version, Commit, BuildDate
	os.Exit(cli.Main())
}
