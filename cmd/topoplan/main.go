package main

import (
	"fmt"
	"io"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitInputError   = 2
	ExitCompileError = 3
	ExitOutputError  = 4
	ExitStoreError   = 5
	ExitServerError  = 6
	ExitUsageError   = 64
)

const usage = `usage: topoplan <command> [flags]

commands:
  compile   compile a system description into a deployment plan
  serve     run the HTTP API
  show      list or print stored plans
  version   print version and exit

run "topoplan <command> -h" for command flags
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return ExitUsageError
	}

	env := &cliEnv{stdin: stdin, stdout: stdout, stderr: stderr}

	switch args[0] {
	case "compile":
		return env.compile(args[1:])
	case "serve":
		return env.serve(args[1:])
	case "show":
		return env.show(args[1:])
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "topoplan %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return ExitSuccess
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return ExitUsageError
	}
}

// cliEnv carries the process streams to every command.
type cliEnv struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// CommandError carries the exit code of a failed command.
type CommandError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
