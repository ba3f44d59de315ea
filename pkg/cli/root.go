// Package cli provides the stubby command-line interface.
//
// Commands:
//   - serve: run a stub server in the foreground until interrupted
//   - get: issue a GET against a stub server and print the response
//   - post: issue a POST against a stub server and print the response
//   - version: show build information
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// NewRootCommand builds the stubby command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "stubby",
		Short: "stubby runs stub HTTP servers and talks to them",
		Long: `stubby starts a stub server on a stubs port, an admin port and a TLS port,
and issues requests against running stub servers.

Configuration can be provided via a YAML file, STUBBY_* environment variables
or flags. Flags win over the environment, which wins over the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newGetCommand(),
		newPostCommand(),
		newVersionCommand(),
	)
	return root
}

// Main runs the CLI with os.Args and returns the process exit code.
func Main() int {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes the CLI with args, writing to stdout and stderr.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
