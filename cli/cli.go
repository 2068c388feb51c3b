// Package cli provides the command-line interface for signed document
// validation.
package cli

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "verify":
		VerifyCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("sigval - signed document validation tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  verify   Validate the signature(s) of an XML or PDF document")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s verify -config sigval.yaml document.xml\n", os.Args[0])
	fmt.Printf("  %s verify -config sigval.yaml -json document.pdf\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("sigval version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}
