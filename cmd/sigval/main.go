// Command sigval validates signed XML and PDF documents.
//
// Usage:
//
//	sigval <command> [options] <args>
//
// Commands:
//
//	verify   Validate the signature(s) of an XML or PDF document
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Validate a document
//	sigval verify -config sigval.yaml document.xml
//
//	# Validate with JSON output
//	sigval verify -config sigval.yaml -json document.pdf
package main

import (
	"os"

	"github.com/swedenconnect/sig-validation-base/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/sigval
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Set version info
	cli.Version = version
	cli.BuildTime = buildTime

	// Run the CLI
	cli.Run(os.Args)
}
