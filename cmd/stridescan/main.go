// Command stridescan scans every TCP port of a host with a stride-partitioned
// pool of workers, and can serve scans over HTTP.
package main

import "github.com/anstrom/stridescan/cmd/cli"

// Build information - set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
