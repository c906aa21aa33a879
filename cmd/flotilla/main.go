package main

import (
	"errors"
	"os"

	"github.com/artpar/flotilla/internal/shell/orchestrator"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes per the CLI contract.
const (
	// ExitSuccess: all waves healthy or skipped.
	ExitSuccess = 0
	// ExitConfigError: configuration error (bad graph, missing template
	// target, bad config file) - surfaced before any platform call.
	ExitConfigError = 1
	// ExitDeployFailed: one or more services failed after retry exhaustion.
	ExitDeployFailed = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("error:", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// exitCode maps an error to the CLI exit code contract. Anything that is not
// a deploy failure is a configuration or environment problem.
//
// An operator cancel also maps to the deploy-failure code: the run stopped
// short of convergence with partial state persisted, and scripts must treat
// it like any other incomplete run and re-execute. It is never conflated
// with the configuration code, which means "fix the input before retrying".
func exitCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrRunFailed),
		errors.Is(err, orchestrator.ErrRunCancelled):
		return ExitDeployFailed
	default:
		return ExitConfigError
	}
}
